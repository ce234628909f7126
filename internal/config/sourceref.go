package config

import (
	"fmt"
	"os"
	"strings"
)

// SourceRef resolves a secret from one of several sources, so config files
// can reference an environment variable or a mounted file instead of
// embedding the value.
type SourceRef struct {
	// Value holds the secret inline. Fine for development setups.
	Value string `yaml:"value"`

	// Env names an environment variable to read the secret from.
	Env string `yaml:"env"`

	// File points at a file whose trimmed content is the secret.
	File string `yaml:"file"`
}

// Resolve returns the referenced value. A ref with no source set resolves to
// the empty string.
func (r SourceRef) Resolve() (string, error) {
	switch {
	case r.Value != "":
		return r.Value, nil
	case r.Env != "":
		v, ok := os.LookupEnv(r.Env)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", r.Env)
		}

		return v, nil
	case r.File != "":
		b, err := os.ReadFile(r.File)
		if err != nil {
			return "", fmt.Errorf("reading secret file: %w", err)
		}

		return strings.TrimSpace(string(b)), nil
	default:
		return "", nil
	}
}
