package middleware

import (
	"mime"
	"net/http"

	"go.uber.org/zap"
)

// RequireContentType rejects requests whose Content-Type media type
// does not match, before any of the body is read.
func RequireContentType(contentType string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Content-Type")
			mediaType, _, err := mime.ParseMediaType(header)
			if err != nil || mediaType != contentType {
				logger.Error("Invalid Content-Type",
					zap.String("content_type", header),
					zap.String("path", r.URL.Path),
				)
				RespondWithError(w, http.StatusUnsupportedMediaType,
					"Content-Type must be "+contentType)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
