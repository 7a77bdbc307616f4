package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats go through
// the same strict decoder. Scalars stay as YAML typed them, so a duration
// written as a bare number (ping_interval: 30) becomes the string "30".
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return json.Marshal(jsonable(doc, ""))
}

// jsonable converts YAML maps to string-keyed maps. Numbers under a
// duration-valued key are turned into strings.
func jsonable(in any, key string) any {
	switch x := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = jsonable(v, k)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			ks := fmt.Sprint(k)
			out[ks] = jsonable(v, ks)
		}
		return out
	case []any:
		for i := range x {
			x[i] = jsonable(x[i], "")
		}
		return x
	case int, int64, float64:
		if durationKeys[key] {
			return fmt.Sprint(x)
		}
	}
	return in
}

// durationKeys are the leaf keys holding duration strings.
var durationKeys = map[string]bool{
	"dial_timeout":    true,
	"ping_interval":   true,
	"read_timeout":    true,
	"write_timeout":   true,
	"backoff_initial": true,
	"backoff_max":     true,
	"timeout":         true,
	"retry_base":      true,
	"retry_max_delay": true,
	"send_timeout":    true,
	"busy_timeout":    true,
}
