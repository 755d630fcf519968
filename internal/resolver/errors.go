package resolver

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidSourceURL indicates a malformed URL or a host outside the supported services.
	ErrInvalidSourceURL = errors.New("resolver: invalid source url, use a Spotify, Apple Music, YouTube, Deezer, SoundCloud, Tidal, Amazon Music, Bandcamp or Qobuz link")
	// ErrRateLimited matches any RateLimitedError.
	ErrRateLimited = errors.New("resolver: rate limited")
)

// RateLimitedError reports that the local limiter refused the outbound call.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("resolver: rate limit reached, retry in %ds", e.RetryAfterSeconds())
}

// Is allows errors.Is(err, ErrRateLimited).
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	seconds := int(math.Ceil(e.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
