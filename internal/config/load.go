package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const fileName = "config.yaml"

// Load reads config.yaml from the first directory that has one and decodes
// it over the defaults. A .env file next to the config file is loaded into
// the environment first, and ${VAR} references in the config are expanded
// from it.
func Load(dirs ...string) (*Config, error) {
	cfg := Default()

	path := findConfig(dirs)
	if path == "" {
		return cfg, nil
	}

	if envPath := filepath.Join(filepath.Dir(path), ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var values map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &values); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := decode(values, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	return cfg, nil
}

func decode(values map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}

	return dec.Decode(values)
}

func findConfig(dirs []string) string {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	for _, dir := range dirs {
		path := filepath.Join(os.ExpandEnv(dir), fileName)
		if fileExists(path) {
			return path
		}
	}

	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
