package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const ownerKey ctxKey = iota

// ownerMiddleware reads the caller's identity from X-Owner-ID.
// Authentication itself lives in front of this service; here the header is
// only parsed and required.
func (s *Server) ownerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Owner-ID")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Owner-ID header")
			return
		}
		ownerID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid X-Owner-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, ownerID)))
	})
}

func ownerFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ownerKey).(uuid.UUID)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
