package slug

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	MinLength = 3
	MaxLength = 64
)

var ErrInvalidSlug = errors.New("invalid share slug")

// Normalizer turns typed share slugs into the lowercase [a-z0-9-] form used in
// playback URLs.
type Normalizer struct {
	rewriter *Rewriter
	reserved map[string]bool
}

func NewNormalizer(rewriter *Rewriter, reserved ...string) *Normalizer {
	set := make(map[string]bool, len(reserved))
	for _, word := range reserved {
		set[strings.ToLower(word)] = true
	}
	return &Normalizer{rewriter: rewriter, reserved: set}
}

func (n *Normalizer) Normalize(slug string) (string, error) {
	raw := strings.TrimSpace(slug)
	if n.rewriter != nil {
		raw = n.rewriter.Apply(raw)
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > MaxLength {
		out = strings.TrimRight(out[:MaxLength], "-")
	}

	switch {
	case len(out) < MinLength:
		return "", fmt.Errorf("%w: %q must have at least %d letters or digits", ErrInvalidSlug, slug, MinLength)
	case n.reserved[out]:
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidSlug, out)
	}
	return out, nil
}
