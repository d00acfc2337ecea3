package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidToken is returned by verifiers for unknown or malformed tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves a bearer token to a user identifier.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// StaticVerifier verifies tokens against a fixed token-to-user table. It
// backs single-user and development deployments; production deployments
// plug in their own verifier.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier builds a verifier from a token-to-user map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	cloned := make(map[string]string, len(tokens))
	for token, user := range tokens {
		cloned[token] = user
	}
	return &StaticVerifier{tokens: cloned}
}

// Verify implements TokenVerifier.
func (v *StaticVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, ok := v.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}

type contextKey string

const userIDKey contextKey = "marksync.user"

// UserID returns the authenticated user of a request context, empty when
// the request did not pass through the auth middleware.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// requestToken extracts the bearer token from the Authorization header,
// falling back to the token query parameter. The query form exists for the
// WebSocket upgrade, where browsers cannot set headers.
func requestToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authenticate wraps a handler with token verification, storing the
// resolved user in the request context.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.verifier.Verify(requestToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
