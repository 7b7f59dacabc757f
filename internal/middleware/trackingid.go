// Package middleware provides HTTP middleware for the orchestrator.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/veloraops/conductor/internal/logger"
)

const headerTrackingID = "X-Tracking-ID"

// TrackingID is HTTP middleware that extracts X-Tracking-ID from the
// request header or generates a new one. The ID is stored in the context
// and set on the response header so callers can correlate follow-ups.
func TrackingID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerTrackingID)
		if id == "" {
			id = generateID()
		}

		ctx := logger.WithTrackingID(r.Context(), id)
		w.Header().Set(headerTrackingID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateID returns a 16-byte random hex string (32 chars).
func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
