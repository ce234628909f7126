// Package config defines the file configuration for the sessionctl binary.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"
)

type Config struct {
	Application Application `yaml:"application"`
	Logger      Logger      `yaml:"logger"`
	HTTP        HTTPServer  `yaml:"http"`
	API         API         `yaml:"api"`
	Core        Core        `yaml:"core"`
	Session     Session     `yaml:"session"`
}

// Application identifies this deployment in logs.
type Application struct {
	Name string `yaml:"name"`
}

type Logger struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// HTTPServer configures the demo server subcommand.
type HTTPServer struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// API describes where the host application serves its API, mirroring
// sessiond.AppInfo.
type API struct {
	Domain   string `yaml:"domain"`
	BasePath string `yaml:"basePath"`
}

// Core points at the session core service.
type Core struct {
	// ConnectionURI lists one or more core addresses separated by ';'.
	ConnectionURI string `yaml:"connectionURI"`

	APIKey SourceRef `yaml:"apiKey"`
}

// Session carries the session recipe options that make sense in a config
// file. Empty values keep the SDK defaults.
type Session struct {
	CookieDomain             string `yaml:"cookieDomain"`
	CookieSecure             *bool  `yaml:"cookieSecure"`
	CookieSameSite           string `yaml:"cookieSameSite"`
	AntiCsrf                 string `yaml:"antiCsrf"`
	SessionExpiredStatusCode int    `yaml:"sessionExpiredStatusCode"`
}

// Default returns the configuration used when no config file is found.
func Default() *Config {
	return &Config{
		Application: Application{Name: "sessionctl"},
		Logger:      Logger{Level: "info", Format: "text"},
		HTTP: HTTPServer{
			Address:         ":3001",
			ShutdownTimeout: 5 * time.Second,
		},
		API: API{
			Domain:   "http://localhost:3001",
			BasePath: "/auth",
		},
		Core: Core{ConnectionURI: "http://localhost:3567"},
	}
}
