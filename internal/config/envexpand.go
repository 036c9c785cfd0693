package config

import "os"

// ExpandEnv expands ${VAR}/$VAR references in YAML source text before
// parsing. Only non-secret values are expected to use this — secrets
// are read directly from the environment by cmd/orchestratord, never
// routed through the config file — but the mechanism is generic.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
