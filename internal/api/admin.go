package api

import (
	"fmt"
	"net/http"

	"finclash/internal/cache"

	"github.com/gorilla/mux"
	"github.com/pquerna/otp/totp"
)

const adminHeader = "X-Admin-OTP"

// adminMiddleware requires a current TOTP code when a secret is configured.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminTOTP != "" {
			code := r.Header.Get(adminHeader)
			if code == "" || !totp.Validate(code, s.adminTOTP) {
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.market.Cache().Stats())
}

func (s *Server) handleInvalidateKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !s.market.Cache().Invalidate(key) {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("no cache entry %q", key))
		return
	}
	s.log.Info("cache entry invalidated", "key", key)
	writeJSON(w, http.StatusOK, map[string]any{"removed": 1})
}

func (s *Server) handleInvalidateType(w http.ResponseWriter, r *http.Request) {
	t, err := cache.ParseDataType(mux.Vars(r)["type"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n := s.market.Cache().InvalidateType(t)
	s.log.Info("cache type invalidated", "type", string(t), "removed", n)
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	c := s.market.Cache()
	n := c.Len()
	c.Clear()
	s.log.Info("cache cleared", "removed", n)
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}
