package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ReplaceEnvVars returns config with every [[VAR]] placeholder replaced
// by its value from vars. Placeholders tolerate whitespace inside the
// brackets and substitute inside larger strings. Maps and lists are
// walked recursively; the input is not mutated.
func ReplaceEnvVars(config map[string]any, vars map[string]any) map[string]any {
	result := config
	for name, value := range vars {
		result = replaceEnvVar(result, name, value).(map[string]any)
	}
	return result
}

// ReplaceEnvVarsInString substitutes placeholders in a single string,
// used for topic keys and other bare strings.
func ReplaceEnvVarsInString(s string, vars map[string]any) string {
	for name, value := range vars {
		s = envVarPattern(name).ReplaceAllString(s, escapeReplacement(value))
	}
	return s
}

func replaceEnvVar(value any, name string, varValue any) any {
	switch v := value.(type) {
	case string:
		return envVarPattern(name).ReplaceAllString(v, escapeReplacement(varValue))
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			result[key] = replaceEnvVar(item, name, varValue)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = replaceEnvVar(item, name, varValue)
		}
		return result
	default:
		return value
	}
}

func envVarPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\[\[\s*` + regexp.QuoteMeta(name) + `\s*\]\]`)
}

// escapeReplacement renders the value as a string and escapes characters
// the regexp replacement syntax would otherwise interpret, e.g.
// backslashes in Windows paths.
func escapeReplacement(value any) string {
	return strings.ReplaceAll(fmt.Sprintf("%v", value), "$", "$$")
}
