package smartlinks

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	slugAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
	baseSlugLength = 6
	slugLengthStep = 10
)

// MaxSlugAttempts bounds collision retries before giving up.
const MaxSlugAttempts = 50

// ErrSlugSpaceExhausted indicates every attempt collided. Operators should treat it as an alert.
var ErrSlugSpaceExhausted = errors.New("smartlinks: slug space exhausted")

// SlugExists reports whether slug is already taken.
type SlugExists func(ctx context.Context, slug string) (bool, error)

// SlugGenerator produces short lowercase alphanumeric slugs. The length grows by one for
// every ten collisions.
type SlugGenerator struct {
	random      func(alphabet string, size int) (string, error)
	maxAttempts int
}

// NewSlugGenerator returns a generator backed by go-nanoid.
func NewSlugGenerator() *SlugGenerator {
	return &SlugGenerator{random: gonanoid.Generate, maxAttempts: MaxSlugAttempts}
}

// SlugLength returns the slug length used for a zero-based attempt number.
func SlugLength(attempt int) int {
	return baseSlugLength + attempt/slugLengthStep
}

// Generate draws candidates until exists reports a free one.
func (g *SlugGenerator) Generate(ctx context.Context, exists SlugExists) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate, err := g.random(slugAlphabet, SlugLength(attempt))
		if err != nil {
			return "", fmt.Errorf("smartlinks: slug generation: %w", err)
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrSlugSpaceExhausted, g.maxAttempts)
}
