package client

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
)

// ProxyConfig holds the outbound proxies read from the environment.
type ProxyConfig struct {
	HTTP  string
	HTTPS string
}

// LoadProxyConfig reads http_proxy and https_proxy through getenv. An empty
// HTTPS proxy falls back to the HTTP proxy. A nil getenv means os.Getenv.
func LoadProxyConfig(getenv func(string) string) ProxyConfig {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := ProxyConfig{
		HTTP:  getenv("http_proxy"),
		HTTPS: getenv("https_proxy"),
	}
	if cfg.HTTPS == "" {
		cfg.HTTPS = cfg.HTTP
	}
	return cfg
}

// Enabled reports whether any proxy is configured.
func (p ProxyConfig) Enabled() bool {
	return p.HTTP != "" || p.HTTPS != ""
}

// ProxyFunc returns a function suitable for http.Transport.Proxy. Requests
// go direct when no proxy is set for their scheme.
func (p ProxyConfig) ProxyFunc() (func(*http.Request) (*url.URL, error), error) {
	httpURL, err := parseProxy(p.HTTP)
	if err != nil {
		return nil, fmt.Errorf("http_proxy: %w", err)
	}
	httpsURL, err := parseProxy(p.HTTPS)
	if err != nil {
		return nil, fmt.Errorf("https_proxy: %w", err)
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" {
			return httpsURL, nil
		}
		return httpURL, nil
	}, nil
}

func parseProxy(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		// Bare host:port, as curl accepts it
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return nil, err
		}
	}
	return u, nil
}
