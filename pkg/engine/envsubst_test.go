package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("FORMY_TEST_VAR", "hello")

	assert.Equal(t, "hello", ExpandEnv("${FORMY_TEST_VAR}"))
	assert.Equal(t, "prefix-hello-suffix", ExpandEnv("prefix-${FORMY_TEST_VAR}-suffix"))

	// Unset with default
	assert.Equal(t, "fallback", ExpandEnv("${FORMY_TEST_UNSET:fallback}"))
	// Unset without default expands to empty
	assert.Equal(t, "", ExpandEnv("${FORMY_TEST_UNSET}"))
	// Set value wins over default
	assert.Equal(t, "hello", ExpandEnv("${FORMY_TEST_VAR:fallback}"))
	// Defaults may contain colons
	assert.Equal(t, "https://example.com:8443", ExpandEnv("${FORMY_TEST_UNSET:https://example.com:8443}"))
	// Plain strings pass through untouched
	assert.Equal(t, "no variables here", ExpandEnv("no variables here"))
}

func TestExpandValueRecursive(t *testing.T) {
	t.Setenv("FORMY_TEST_KEY", "secret")

	in := map[interface{}]interface{}{
		"api_key": "${FORMY_TEST_KEY}",
		"nested": map[interface{}]interface{}{
			"url": "${FORMY_TEST_URL:http://localhost:9000}",
		},
		"list":  []interface{}{"${FORMY_TEST_KEY}", "plain", 42},
		"count": 3,
	}

	out := expandValue(in).(map[interface{}]interface{})
	assert.Equal(t, "secret", out["api_key"])
	assert.Equal(t, "http://localhost:9000", out["nested"].(map[interface{}]interface{})["url"])
	assert.Equal(t, []interface{}{"secret", "plain", 42}, out["list"])
	assert.Equal(t, 3, out["count"])

	// Expansion is idempotent on already-expanded values.
	again := expandValue(out).(map[interface{}]interface{})
	assert.Equal(t, out["api_key"], again["api_key"])
}
