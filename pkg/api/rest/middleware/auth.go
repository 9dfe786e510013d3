package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	api.AuthConfig
	PublicPaths []string // path prefixes served without a token
}

// Auth creates a JWT authentication middleware. Valid claims are stored in
// the request context for api.ClaimsFromContext.
func Auth(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			for _, path := range config.PublicPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			token, err := api.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}

			claims, err := api.ParseToken(token, config.AuthConfig)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(api.ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ErrorResponse is the body of every error answer
type ErrorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		Status:    statusCode,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}
