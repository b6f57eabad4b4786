package vestd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vestvault/crypto"
)

type callerContextKey struct{}

var errMissingBearer = errors.New("vestd: missing bearer token")

// CallerFromContext returns the authenticated caller address injected by the
// auth middleware.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	addr, ok := ctx.Value(callerContextKey{}).([20]byte)
	return addr, ok
}

// Authenticator validates HMAC signed bearer tokens whose subject is the
// caller's bech32 address.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
}

// NewAuthenticator builds an Authenticator from the auth configuration.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{
		secret:   []byte(cfg.HMACSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew.Duration,
		now:      time.Now,
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) ([20]byte, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return [20]byte{}, errMissingBearer
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return [20]byte{}, errMissingBearer
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.skew),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return [20]byte{}, err
	}
	if !token.Valid {
		return [20]byte{}, errors.New("vestd: invalid token")
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(claims.Subject))
	if err != nil {
		return [20]byte{}, errors.New("vestd: token subject must be a bech32 address")
	}
	return addr.Array(), nil
}
