package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/campus-platform-attendance/internal/infra/config"
)

var (
	// ErrInvalidAccessToken indicates a malformed or badly signed token.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates a token past its expiry.
	ErrExpiredAccessToken = errors.New("access token expired")
)

// Identity roles issued by the campus identity provider.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// IdentityClaims carries the verified caller identity extracted from an access token.
type IdentityClaims struct {
	SubjectID string
	Roles     []string
}

// HasRole reports whether the identity carries the given role.
func (c IdentityClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// IdentityVerifier validates access tokens minted by the campus identity
// provider. The attendance engine never mints identity tokens itself; it only
// verifies the shared-secret signature and extracts the subject and roles.
type IdentityVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIdentityVerifier constructs a verifier from JWT settings.
func NewIdentityVerifier(cfg config.JWTSettings) (*IdentityVerifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &IdentityVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the verification clock (primarily for testing).
func (v *IdentityVerifier) WithClock(now func() time.Time) *IdentityVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify parses and validates the token, returning the caller identity.
func (v *IdentityVerifier) Verify(token string) (*IdentityClaims, error) {
	claims := &tokenClaims{}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidAccessToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidAccessToken)
	}

	return &IdentityClaims{
		SubjectID: subject,
		Roles:     claims.Roles,
	}, nil
}
