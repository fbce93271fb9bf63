package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/razumnyak/infractl/internal/token"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/storage"
)

// ErrorResponse is the JSON body for every rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admission bundles the checks every request passes through before
// reaching a handler.
type admission struct {
	isolation bool
	allowed   []netip.Prefix
	secret    []byte
	skipAuth  map[string]bool
	limiter   *RateLimiter
	store     *storage.Store
	log       logger.Logger
}

func newAdmission(isolation bool, networks []string, secret []byte, skipAuth []string, limiter *RateLimiter, store *storage.Store, log logger.Logger) (*admission, error) {
	a := &admission{
		isolation: isolation,
		secret:    secret,
		skipAuth:  make(map[string]bool, len(skipAuth)),
		limiter:   limiter,
		store:     store,
		log:       log,
	}
	for _, p := range skipAuth {
		a.skipAuth[p] = true
	}
	for _, cidr := range networks {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, err
		}
		a.allowed = append(a.allowed, prefix)
	}
	return a, nil
}

func (a *admission) reject(w http.ResponseWriter, r *http.Request, status int, reason, msg string) {
	ip := clientIP(r)
	a.log.Warn("Rejected %s %s from %s: %s", r.Method, r.URL.Path, ip, reason)

	if a.store != nil {
		headers, _ := json.Marshal(r.Header)
		err := a.store.RecordSuspicious(storage.SuspiciousRequest{
			SourceIP:  ip,
			Method:    r.Method,
			Path:      r.URL.Path,
			Reason:    reason,
			UserAgent: r.UserAgent(),
			Headers:   string(headers),
		})
		if err != nil {
			a.log.Error("Recording suspicious request: %v", err)
		}
	}
	writeError(w, status, msg)
}

// Network rejects clients outside the allowed networks when isolation is
// on. It runs before everything else; nothing should be computed for a
// request that is not even allowed to connect.
func (a *admission) Network(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.isolation {
			next.ServeHTTP(w, r)
			return
		}

		addr, err := netip.ParseAddr(clientIP(r))
		if err == nil {
			addr = addr.Unmap()
			for _, prefix := range a.allowed {
				if prefix.Contains(addr) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		a.reject(w, r, http.StatusForbidden, "network_violation", "access denied")
	})
}

// Auth verifies the bearer token on every path not in the skip list.
func (a *admission) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			a.reject(w, r, http.StatusUnauthorized, "missing_auth", "authorization required")
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			a.reject(w, r, http.StatusUnauthorized, "malformed_auth_header", "authorization required")
			return
		}

		if _, detail, err := token.Verify(a.secret, raw); err != nil {
			a.reject(w, r, http.StatusUnauthorized, "invalid_jwt:"+detail, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit bounds authenticated traffic per client IP.
func (a *admission) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow(clientIP(r)) {
			a.reject(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Timing logs how long each request took.
func (a *admission) Timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("%s %s from %s took %s", r.Method, r.URL.Path, clientIP(r), time.Since(start).Round(time.Microsecond))
	})
}
