package sessiond

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AppInfo describes the application the SDK runs inside. Init normalises it
// before handing it to recipes: the API domain is reduced to its origin and
// the base path loses any trailing slash.
type AppInfo struct {
	// AppName identifies the application in logs and core-side bookkeeping.
	AppName string

	// APIDomain is the full origin the API is served on,
	// e.g. "https://api.example.com".
	APIDomain string

	// APIBasePath is the path prefix the SDK's own endpoints live under.
	// Defaults to "/auth".
	APIBasePath string
}

func (a AppInfo) normalise() (AppInfo, error) {
	if a.AppName == "" {
		return AppInfo{}, errors.New("app name must be set")
	}

	u, err := url.Parse(a.APIDomain)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return AppInfo{}, fmt.Errorf("api domain %q must be a full origin like https://api.example.com", a.APIDomain)
	}

	a.APIDomain = u.Scheme + "://" + u.Host

	base := a.APIBasePath
	if base == "" {
		base = "/auth"
	}

	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}

	a.APIBasePath = strings.TrimRight(base, "/")

	return a, nil
}

// APIFullPath joins a relative path onto the API base path.
func (a AppInfo) APIFullPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return a.APIBasePath + path
}

// CoreConfig carries the connection parameters for the core service.
type CoreConfig struct {
	// ConnectionURI lists one or more core addresses separated by ';',
	// e.g. "https://core-1:3567;https://core-2:3567".
	ConnectionURI string

	// APIKey is sent with every core request when set.
	APIKey string

	// Client overrides the HTTP client used for core requests, for hosts
	// that need custom TLS or timeouts.
	Client *http.Client
}

func (c CoreConfig) hosts() ([]string, error) {
	var hosts []string

	for _, h := range strings.Split(c.ConnectionURI, ";") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}

		hosts = append(hosts, h)
	}

	if len(hosts) == 0 {
		return nil, errors.New("connection URI must name at least one core host")
	}

	return hosts, nil
}

// Config is the root SDK configuration passed to Init.
type Config struct {
	AppInfo AppInfo
	Core    CoreConfig

	// Recipes are the functional units to enable. At least one is required.
	Recipes []RecipeInit
}
