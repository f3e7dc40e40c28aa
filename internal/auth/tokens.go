package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const defaultAccessTTL = 15 * time.Minute

// RoleStudent is the role required for every purchase surface.
const RoleStudent = "student"

const roleClaim = "role"

// Claims is the identity extracted from a verified access token.
type Claims struct {
	StudentID string
	Role      string
}

// Tokens signs and verifies HS256 access tokens carrying a subject and role.
// Issuing normally happens in the identity service; the local signer exists
// for tests and development tooling.
type Tokens struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	issuer    string
	audience  string
	clockSkew time.Duration
}

// Config configures token verification.
type Config struct {
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
}

// NewTokens constructs a Tokens instance with sane defaults.
func NewTokens(cfg Config) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "testkart-api"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "testkart-frontend"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &Tokens{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
		signer:    jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

// WithNow allows tests to override the time provider.
func (t *Tokens) WithNow(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Sign issues an access token for the given student.
func (t *Tokens) Sign(studentID, role string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.accessTTL)
	builder := jwt.NewBuilder().
		Subject(studentID).
		Issuer(t.issuer).
		Audience([]string{t.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-t.clockSkew)).
		Expiration(expiresAt).
		Claim(roleClaim, role)
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(t.signer, t.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies an access token and returns its claims.
func (t *Tokens) Parse(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, errors.New("auth: missing token")
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, err
	}
	if t.validator.Algorithm != "" && algorithm != t.validator.Algorithm {
		return Claims{}, fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, t.secret))
	if err != nil {
		return Claims{}, err
	}
	if err := t.validator.Validate(parsed, algorithm, t.now()); err != nil {
		return Claims{}, err
	}
	claims := Claims{StudentID: parsed.Subject()}
	if raw, ok := parsed.Get(roleClaim); ok {
		if role, ok := raw.(string); ok {
			claims.Role = role
		}
	}
	if claims.StudentID == "" {
		return Claims{}, errors.New("auth: token missing subject")
	}
	return claims, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
