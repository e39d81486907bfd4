package hookserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth verifies HS256 bearer tokens presented by the host.
type Auth struct {
	secret []byte
	issuer string
}

// NewAuth returns nil when secret is empty, which disables authentication.
func NewAuth(secret, issuer string) *Auth {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Auth{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}
}

// GenerateToken mints a token the host can send as "Authorization: Bearer".
// ttl <= 0 produces a token without expiry.
func (a *Auth) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if a == nil {
		return "", errors.New("authentication disabled")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) parse(token string) error {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	t, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return a.secret, nil }, opts...)
	if err != nil {
		return err
	}
	if !t.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// Wrap rejects requests without a valid bearer token. A nil Auth passes
// everything through.
func (a *Auth) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if a == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if err := a.parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
