package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken signs an HS256 bearer token for subject, valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("httpapi: empty JWT secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// withAuth requires a valid bearer token when a JWT secret is configured.
// Browsers cannot set headers on WebSocket upgrades, so the token may also
// come from the access_token query parameter.
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.JWTSecret == "" {
			next(w, req)
			return
		}

		tokenString, problem := bearerToken(req)
		if problem != "" {
			r.unauthorized(w, problem)
			return
		}

		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		token, err := parser.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
			return []byte(r.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			detail := "Invalid token."
			if errors.Is(err, jwt.ErrTokenExpired) {
				detail = "Token expired."
			}
			r.unauthorized(w, detail)
			return
		}
		next(w, req)
	}
}

// bearerToken extracts the token, or returns a client-facing problem.
func bearerToken(req *http.Request) (token, problem string) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if tok := req.URL.Query().Get("access_token"); tok != "" {
			return tok, ""
		}
		return "", "Missing authorization header."
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", "Invalid authorization format."
	}
	return parts[1], ""
}

func (r *Router) unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, errorBody{Detail: detail, ErrorCode: codeUnauthorized})
}
