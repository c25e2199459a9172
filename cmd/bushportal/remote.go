package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bushportal/livecoding/internal/config"
)

// defaultBaseURL points at the locally configured server.
func defaultBaseURL(cfg *config.Config) string {
	addr := strings.TrimSpace(cfg.Server.Addr)
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// webSocketURL rewrites an http(s) base URL to the ws(s) upgrade route.
func webSocketURL(baseURL, path string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	return parsed.String(), nil
}

func apiURL(baseURL string, segments ...string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported server url scheme %q", parsed.Scheme)
	}
	return parsed.JoinPath(append([]string{"api", "live-coding"}, segments...)...).String(), nil
}
