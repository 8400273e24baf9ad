package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"mystra/crypto"
)

// DevCallerHeader names the caller directly when the devnet allows it.
const DevCallerHeader = "X-Mystra-Caller"

var (
	errMissingCredentials = errors.New("missing bearer token")
	errInvalidToken       = errors.New("invalid token")
	errSecretMissing      = errors.New("auth secret not configured")
)

// AuthConfig configures caller authentication.
type AuthConfig struct {
	HMACSecret     string
	Issuer         string
	AllowDevCaller bool
	ClockSkew      time.Duration
}

// Authenticator resolves the caller identity of a request from an HS256
// bearer token whose subject is the caller's bech32 identity.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

// NewAuthenticator returns an authenticator for cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Caller authenticates r.
func (a *Authenticator) Caller(r *http.Request) (crypto.Identity, error) {
	if a == nil {
		return crypto.Identity{}, errSecretMissing
	}
	if tokenString := extractBearer(r.Header.Get("Authorization")); tokenString != "" {
		return a.parseToken(tokenString)
	}
	if a.cfg.AllowDevCaller {
		if raw := strings.TrimSpace(r.Header.Get(DevCallerHeader)); raw != "" {
			id, err := crypto.ParseIdentity(raw)
			if err != nil {
				return crypto.Identity{}, errInvalidToken
			}
			return id, nil
		}
	}
	return crypto.Identity{}, errMissingCredentials
}

func (a *Authenticator) parseToken(tokenString string) (crypto.Identity, error) {
	if len(a.secret) == 0 {
		return crypto.Identity{}, errSecretMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return crypto.Identity{}, errInvalidToken
	}
	id, err := crypto.ParseIdentity(claims.Subject)
	if err != nil {
		return crypto.Identity{}, errInvalidToken
	}
	return id, nil
}

// IssueToken signs a bearer token naming caller as the subject.
func IssueToken(secret, issuer string, caller crypto.Identity, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errSecretMissing
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	claims := jwt.RegisteredClaims{
		Subject:   caller.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
