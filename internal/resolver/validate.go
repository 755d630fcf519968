package resolver

import (
	"fmt"
	"net/url"
	"strings"
)

var allowedDomains = []string{
	"spotify.com",
	"music.apple.com",
	"youtube.com",
	"youtu.be",
	"deezer.com",
	"soundcloud.com",
	"tidal.com",
	"bandcamp.com",
	"qobuz.com",
}

// amazonMusicLabel matches music.amazon.<any tld>.
const amazonMusicLabel = "music.amazon."

// ValidateSourceURL checks that raw is an absolute http(s) URL on a supported music service
// and returns it trimmed.
func ValidateSourceURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidSourceURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrInvalidSourceURL
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" || !allowedHost(host) {
		return "", ErrInvalidSourceURL
	}
	return trimmed, nil
}

func allowedHost(host string) bool {
	for _, domain := range allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return strings.HasPrefix(host, amazonMusicLabel) || strings.Contains(host, "."+amazonMusicLabel)
}
