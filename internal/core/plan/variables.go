package plan

import "regexp"

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: Default value (optional, after :-)
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with
// values from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if present, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if present, otherwise "default"
//   - Unmatched text is left unchanged
//
// Missing variables without a default are a load-time error; by the time plans
// are built any leftover placeholder is deliberate and passes through.
func SubstituteVariables(value string, variables map[string]string) string {
	if variables == nil {
		variables = make(map[string]string)
	}

	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if len(submatch) >= 2 {
			varName := submatch[1]
			if val, ok := variables[varName]; ok {
				return val
			}
			if len(submatch) >= 3 && submatch[2] != "" {
				return submatch[2]
			}
			// ${VAR:-} with an empty default resolves to the empty string.
			if regexp.MustCompile(`\$\{` + varName + `:-\}`).MatchString(match) {
				return ""
			}
		}
		return match
	})
}
