package smartlinks

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSlugGeneratorProducesDistinctSlugs(t *testing.T) {
	generator := NewSlugGenerator()
	taken := make(map[string]struct{}, 10000)
	exists := func(_ context.Context, slug string) (bool, error) {
		_, ok := taken[slug]
		return ok, nil
	}
	for index := 0; index < 10000; index++ {
		slug, err := generator.Generate(context.Background(), exists)
		if err != nil {
			t.Fatalf("generate %d: %v", index, err)
		}
		if _, duplicate := taken[slug]; duplicate {
			t.Fatalf("duplicate slug %q", slug)
		}
		if len(slug) < baseSlugLength {
			t.Fatalf("slug %q shorter than %d", slug, baseSlugLength)
		}
		if strings.Trim(slug, slugAlphabet) != "" {
			t.Fatalf("slug %q outside alphabet", slug)
		}
		taken[slug] = struct{}{}
	}
}

func TestSlugGeneratorGrowsLengthOnCollisions(t *testing.T) {
	var lengths []int
	generator := &SlugGenerator{
		random: func(_ string, size int) (string, error) {
			lengths = append(lengths, size)
			return strings.Repeat("a", size), nil
		},
		maxAttempts: MaxSlugAttempts,
	}
	slug, err := generator.Generate(context.Background(), func(_ context.Context, candidate string) (bool, error) {
		return len(candidate) < 8, nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if slug != "aaaaaaaa" {
		t.Fatalf("expected 8 character slug, got %q", slug)
	}
	if len(lengths) != 21 {
		t.Fatalf("expected 21 attempts, got %d", len(lengths))
	}
	if lengths[9] != 6 || lengths[10] != 7 || lengths[20] != 8 {
		t.Fatalf("unexpected length progression %v", lengths)
	}
}

func TestSlugGeneratorGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	generator := NewSlugGenerator()
	_, err := generator.Generate(context.Background(), func(context.Context, string) (bool, error) {
		attempts++
		return true, nil
	})
	if !errors.Is(err, ErrSlugSpaceExhausted) {
		t.Fatalf("expected ErrSlugSpaceExhausted, got %v", err)
	}
	if attempts != MaxSlugAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxSlugAttempts, attempts)
	}
}

func TestSlugGeneratorPropagatesLookupErrors(t *testing.T) {
	lookupErr := errors.New("lookup failed")
	_, err := NewSlugGenerator().Generate(context.Background(), func(context.Context, string) (bool, error) {
		return false, lookupErr
	})
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
