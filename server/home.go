package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/buildkite/roko"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/internal/token"
	"github.com/razumnyak/infractl/version"
)

// homeURL normalizes a configured home address into a base URL.
func homeURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return strings.TrimSuffix(address, "/")
	}
	return "http://" + strings.TrimSuffix(address, "/")
}

// fetchDeploymentFromHome asks the home node for a deployment spec the
// agent does not have locally. Both nodes share the JWT secret, so the
// agent mints its own short-lived token.
func (s *Server) fetchDeploymentFromHome(ctx context.Context, name string) (config.Deployment, error) {
	var d config.Deployment

	tok, err := token.Mint([]byte(s.cfg.Auth.JWTSecret), "agent", time.Hour)
	if err != nil {
		return d, fmt.Errorf("minting token: %w", err)
	}

	url := homeURL(s.cfg.Server.HomeAddress) + "/api/deployments/" + name
	client := &http.Client{Timeout: 10 * time.Second}

	r := roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	)
	return roko.DoFunc(ctx, r, func(rt *roko.Retrier) (config.Deployment, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			rt.Break()
			return d, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := client.Do(req)
		if err != nil {
			return d, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			rt.Break()
			return d, fmt.Errorf("home node does not know deployment %s", name)
		default:
			return d, fmt.Errorf("home node returned %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return d, fmt.Errorf("decoding deployment: %w", err)
		}
		return d, nil
	})
}
