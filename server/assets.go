package server

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"github.com/razumnyak/infractl/internal/token"
)

//go:embed dashboard.html
var dashboardHTML string

// handleDashboard serves the monitoring page with a short-lived token
// injected, so the page's API calls pass auth without a login flow. The
// page itself is only reachable from allowed networks.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tok, err := token.Mint([]byte(s.cfg.Auth.JWTSecret), "dashboard", time.Hour)
	if err != nil {
		s.log.Error("Minting dashboard token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	page := strings.Replace(dashboardHTML, "__INFRACTL_TOKEN__", tok, 1)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(page))
}
