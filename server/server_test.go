package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/deploy"
	"github.com/razumnyak/infractl/internal/token"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/metrics"
	"github.com/razumnyak/infractl/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig(mode config.Mode) *config.Config {
	on := true
	return &config.Config{
		Mode: mode,
		Server: config.ServerConfig{
			Bind:            "127.0.0.1",
			Port:            8111,
			AllowedNetworks: []string{"10.0.0.0/8", "127.0.0.1/32"},
		},
		Auth: config.AuthConfig{JWTSecret: testSecret, TokenTTL: "24h"},
		Agents: []config.AgentConfig{
			{Name: "agent-1", Address: "10.0.0.2:8111"},
		},
		Modules: config.ModulesConfig{
			Deploy: config.DeployConfig{
				WorkDir:        "/opt/apps",
				DefaultTimeout: "300s",
				MaxHistory:     100,
				Deployments: []config.Deployment{
					{Name: "api", Type: config.DeployGitPull, Path: "/opt/apps/api"},
				},
			},
			Webhooks: config.WebhooksConfig{
				Enabled: &on,
				Endpoints: []config.WebhookEndpoint{
					{Path: "/hooks/api", Deployment: "api", Secret: "hook-secret"},
				},
			},
		},
	}
}

func testServer(t *testing.T, cfg *config.Config) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	executor := deploy.NewExecutor(cfg.Modules.Deploy, logger.Discard)
	s, err := New(cfg, store, deploy.NewQueue(10), executor, nil, logger.Discard)
	require.NoError(t, err)
	return s, store
}

func doRequest(s *Server, method, path, remoteIP string, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteIP + ":41000"
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T) func(*http.Request) {
	t.Helper()
	tok, err := token.Mint([]byte(testSecret), "test", time.Hour)
	require.NoError(t, err)
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestNetworkIsolation(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "GET", "/health", "203.0.113.50", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	e := decodeError(t, rec)
	assert.Equal(t, "access denied", e.Error)
	assert.Equal(t, http.StatusForbidden, e.Code)

	rows, err := store.RecentSuspicious(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "network_violation", rows[0].Reason)
	assert.Equal(t, "203.0.113.50", rows[0].SourceIP)
}

func TestNetworkIsolationDisabled(t *testing.T) {
	cfg := testConfig(config.ModeAgent)
	off := false
	cfg.Server.IsolationMode = &off
	s, _ := testServer(t, cfg)

	rec := doRequest(s, "GET", "/health", "203.0.113.50", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "GET", "/webhook/queue", "10.0.0.1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, "GET", "/webhook/queue", "10.0.0.1", func(r *http.Request) {
		r.Header.Set("Authorization", "Token abc")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, "GET", "/webhook/queue", "10.0.0.1", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not-a-jwt")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rows, err := store.RecentSuspicious(10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "invalid_jwt:bad_signature", rows[0].Reason)
	assert.Equal(t, "malformed_auth_header", rows[1].Reason)
	assert.Equal(t, "missing_auth", rows[2].Reason)
	assert.Contains(t, rows[1].Headers, "Authorization")
}

func TestAuthSkipPaths(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "GET", "/health", "10.0.0.1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "agent", health["mode"])
}

func TestRootServesPlaintext(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "GET", "/", "10.0.0.1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "infractl", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestDashboardInjectsToken(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeHome))

	rec := doRequest(s, "GET", "/monitoring", "10.0.0.1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "__INFRACTL_TOKEN__")
	assert.Contains(t, body, "window.INFRACTL_TOKEN")
}

func TestDashboardHomeOnly(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "GET", "/monitoring", "10.0.0.1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookDeployEnqueues(t *testing.T) {
	cfg := testConfig(config.ModeAgent)
	cfg.Modules.Webhooks.Endpoints = nil
	s, _ := testServer(t, cfg)

	rec := doRequest(s, "POST", "/webhook/deploy/api", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.JobID)

	require.Equal(t, 1, s.queue.PendingLen())
	j, ok := s.queue.Find(resp.JobID)
	require.True(t, ok)
	assert.Equal(t, "api", j.Deployment.Name)
	assert.Equal(t, "manual", j.TriggerSource)
}

func TestWebhookDeployUnknown(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "POST", "/webhook/deploy/ghost", "10.0.0.1", bearer(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Webhook endpoints sit behind the same bearer auth as the rest of the
// API; the deployment secret is a second factor, not a replacement.
func TestWebhookRequiresBearerToken(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "POST", "/webhook/deploy/api", "10.0.0.1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, s.queue.PendingLen())

	rows, err := store.RecentSuspicious(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "missing_auth", rows[0].Reason)
}

func TestWebhookSignature(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeAgent))
	auth := bearer(t)
	payload := `{"ref":"refs/heads/main"}`

	req := httptest.NewRequest("POST", "/webhook/deploy/api", strings.NewReader(payload))
	req.RemoteAddr = "10.0.0.1:41000"
	auth(req)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write([]byte(payload))
	req.Header.Set("x-hub-signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("x-github-event", "push")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	j, ok := s.queue.Find(resp.JobID)
	require.True(t, ok)
	assert.Equal(t, "github", j.TriggerSource)

	// A wrong signature is a 401 to an authenticated caller, not a
	// suspicious request.
	req = httptest.NewRequest("POST", "/webhook/deploy/api", strings.NewReader(payload))
	req.RemoteAddr = "10.0.0.1:41000"
	auth(req)
	req.Header.Set("x-hub-signature-256", "sha256=deadbeef")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "signature mismatch", decodeError(t, rec).Error)
	assert.Equal(t, 1, s.queue.PendingLen())

	rows, err := store.RecentSuspicious(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWebhookGitlabToken(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))

	req := httptest.NewRequest("POST", "/webhook/deploy/api", strings.NewReader("{}"))
	req.RemoteAddr = "10.0.0.1:41000"
	bearer(t)(req)
	req.Header.Set("x-gitlab-token", "hook-secret")
	req.Header.Set("x-gitlab-event", "Push Hook")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	j, ok := s.queue.Find(resp.JobID)
	require.True(t, ok)
	assert.Equal(t, "gitlab", j.TriggerSource)
}

func TestWebhookShutdown(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))

	rec := doRequest(s, "POST", "/webhook/shutdown/api", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "no shutdown commands configured")

	rec = doRequest(s, "POST", "/webhook/shutdown/ghost", "10.0.0.1", bearer(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatusAndQueue(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeAgent))
	auth := bearer(t)

	rec := doRequest(s, "POST", "/webhook/deploy/api", "10.0.0.1", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = doRequest(s, "GET", "/webhook/status/"+resp.JobID, "10.0.0.1", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var j deploy.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	assert.Equal(t, deploy.StatusQueued, j.Status)

	rec = doRequest(s, "GET", "/webhook/status/nope", "10.0.0.1", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(s, "GET", "/webhook/queue", "10.0.0.1", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var q struct {
		Pending int          `json:"pending"`
		Jobs    []deploy.Job `json:"jobs"`
		History []deploy.Job `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 1, q.Pending)
	require.Len(t, q.Jobs, 1)
	assert.Empty(t, q.History)
}

func TestRateLimit(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeAgent))
	auth := bearer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitRequests; i++ {
		last = doRequest(s, "GET", "/webhook/queue", "10.0.0.7", auth)
		require.Equal(t, http.StatusOK, last.Code, "request %d", i+1)
	}

	last = doRequest(s, "GET", "/webhook/queue", "10.0.0.7", auth)
	assert.Equal(t, http.StatusTooManyRequests, last.Code)

	rows, err := store.RecentSuspicious(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "rate_limit_exceeded", rows[0].Reason)
}

func TestAgentsEndpointHomeOnly(t *testing.T) {
	home, _ := testServer(t, testConfig(config.ModeHome))

	rec := doRequest(home, "GET", "/api/agents", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Agents []struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "agent-1", resp.Agents[0].Name)
	assert.Equal(t, "10.0.0.2:8111", resp.Agents[0].Address)

	agent, _ := testServer(t, testConfig(config.ModeAgent))
	rec = doRequest(agent, "GET", "/api/agents", "10.0.0.1", bearer(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentStatusEndpoints(t *testing.T) {
	home, store := testServer(t, testConfig(config.ModeHome))
	require.NoError(t, store.UpsertAgentStatus(storage.AgentStatus{
		Name: "agent-1", Address: "10.0.0.2:8111", Status: "online", Version: "0.4.0", UptimeSeconds: 3600,
	}))

	rec := doRequest(home, "GET", "/api/agents/statuses", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []storage.AgentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "agent-1", statuses[0].Name)
	assert.Equal(t, "online", statuses[0].Status)

	rec = doRequest(home, "GET", "/api/agents/agent-1/status", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var st storage.AgentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(3600), st.UptimeSeconds)

	rec = doRequest(home, "GET", "/api/agents/ghost/status", "10.0.0.1", bearer(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func sampleSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Timestamp:     time.Now().UTC(),
		CPUPercent:    12.5,
		MemoryTotal:   16 << 30,
		MemoryUsed:    8 << 30,
		MemoryPercent: 50,
		DiskTotal:     100 << 30,
		DiskUsed:      40 << 30,
		DiskPercent:   40,
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeHome))
	require.NoError(t, store.InsertSnapshot("local", sampleSnapshot()))
	require.NoError(t, store.InsertSnapshot("agent-1", sampleSnapshot()))

	rec := doRequest(s, "GET", "/api/metrics", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Metrics []storage.MetricRecord `json:"metrics"`
		Count   int                    `json:"count"`
		Type    string                 `json:"type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "raw", resp.Type)
	assert.Equal(t, 2, resp.Count)

	rec = doRequest(s, "GET", "/api/metrics?agent=local", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Metrics = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "local", resp.Metrics[0].Agent)

	rec = doRequest(s, "GET", "/api/metrics?type=hourly", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hourly", resp.Type)
	assert.Equal(t, 0, resp.Count)

	// An unknown tier falls back to raw rather than erroring.
	rec = doRequest(s, "GET", "/api/metrics?type=weekly", "10.0.0.1", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "raw", resp.Type)
}

func TestDeployHistoryEndpoint(t *testing.T) {
	s, store := testServer(t, testConfig(config.ModeHome))
	auth := bearer(t)

	rec := doRequest(s, "GET", "/api/deploys", "10.0.0.1", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Deployments []storage.DeployRecord `json:"deployments"`
		Count       int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Deployments)

	_, err := store.InsertDeploy(storage.DeployRecord{
		Agent: "local", Deployment: "api", Kind: "git_pull", Status: "running",
		TriggerSource: "manual", StartedAt: time.Now().UTC().Format(storage.TimeFormat),
	})
	require.NoError(t, err)

	rec = doRequest(s, "GET", "/api/deploys?agent=local", "10.0.0.1", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "api", resp.Deployments[0].Deployment)
}

func TestDeploymentsEndpoint(t *testing.T) {
	s, _ := testServer(t, testConfig(config.ModeHome))
	auth := bearer(t)

	rec := doRequest(s, "GET", "/api/deployments", "10.0.0.1", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var ds []config.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.Len(t, ds, 1)
	assert.Equal(t, "api", ds[0].Name)

	rec = doRequest(s, "GET", "/api/deployments/api", "10.0.0.1", auth)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, "GET", "/api/deployments/ghost", "10.0.0.1", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
