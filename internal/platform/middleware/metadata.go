package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"verigate/pkg/requestcontext"
)

// RequestMetadata assigns every request an ID and a fixed request time.
// Downstream code reads both through pkg/requestcontext, which keeps
// timestamps consistent across a single request's writes.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
