package shared

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates a bearer token that failed verification.
var ErrInvalidToken = errors.New("invalid bearer token")

// SubjectVerifier verifies bearer tokens issued by the session provider and extracts the
// user id from the subject claim. Tokens are never issued here.
type SubjectVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewSubjectVerifier constructs a verifier for HS256 tokens. An empty issuer skips the
// issuer check.
func NewSubjectVerifier(secret, issuer string, leeway time.Duration, logger *slog.Logger) *SubjectVerifier {
	return &SubjectVerifier{secret: []byte(secret), issuer: issuer, leeway: leeway, logger: logger}
}

// Verify parses the raw token and returns the user id.
func (v *SubjectVerifier) Verify(raw string) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

// Middleware attaches the verified subject to the request context. Requests without a
// bearer token continue anonymously and are denied by permission checks; requests with an
// invalid token are rejected outright.
func (v *SubjectVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		id, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			if v.logger != nil {
				v.logger.Warn("reject bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), id)))
	})
}
