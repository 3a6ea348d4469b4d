package engine

import (
	"os"
	"regexp"
	"strings"
)

// ${VAR} or ${VAR:default}. The default may itself contain colons.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:default} references in s. Unset
// variables without a default expand to the empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	})
}

// expandValue walks a decoded YAML structure and expands every string leaf.
func expandValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if strings.Contains(val, "${") {
			return ExpandEnv(val)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[interface{}]interface{}, len(val))
		for k, item := range val {
			out[k] = expandValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = expandValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}
