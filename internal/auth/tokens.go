package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaticToken returns a fixed bearer token. An empty value means signed out.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// Claims identify the uploading user to the hosting API.
type Claims struct {
	Email string `json:"email,omitempty"`

	jwt.RegisteredClaims
}

// SignerConfig controls locally signed bearer tokens.
type SignerConfig struct {
	Secret  string
	Issuer  string
	Subject string
	Email   string
	TTL     time.Duration
	// Refresh is how long before expiry a cached token is replaced.
	Refresh time.Duration
	Now     func() time.Time
}

// Signer mints HS256 tokens and caches each one until shortly before it expires.
type Signer struct {
	cfg SignerConfig

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewSigner(cfg SignerConfig) (*Signer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token signing secret is not configured")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "bubblecast"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Refresh <= 0 || cfg.Refresh >= cfg.TTL {
		cfg.Refresh = cfg.TTL / 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Signer{cfg: cfg}, nil
}

func (s *Signer) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	if s.token != "" && now.Before(s.expires.Add(-s.cfg.Refresh)) {
		return s.token, nil
	}

	expires := now.Add(s.cfg.TTL)
	claims := &Claims{
		Email: s.cfg.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   s.cfg.Subject,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", err
	}
	s.token, s.expires = signed, expires
	return signed, nil
}

// Verify parses a token minted with secret. Used by tests and the local API stub.
func Verify(secret, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := parsed.Claims.(*Claims); ok && parsed.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
