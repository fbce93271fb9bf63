package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/deploy"
	"github.com/razumnyak/infractl/storage"
	"github.com/razumnyak/infractl/version"
)

type healthResponse struct {
	Status        string `json:"status"`
	Mode          string `json:"mode"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	System any `json:"system,omitempty"`
}

// webhookResponse is the body for webhook-triggered actions.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("infractl"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Mode:          string(s.cfg.Mode),
		Version:       version.Version(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.collector != nil {
		snap := s.collector.Collect(r.Context())
		resp.System = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	ds := s.cfg.Modules.Deploy.Deployments
	if ds == nil {
		ds = []config.Deployment{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, ok := s.cfg.FindDeployment(name)
	if !ok {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// resolveDeployment finds a deployment locally, falling back to the home
// node for deployments this node does not know about.
func (s *Server) resolveDeployment(r *http.Request, name string) (config.Deployment, bool) {
	d, ok := s.cfg.FindDeployment(name)
	if !ok && s.cfg.Server.HomeAddress != "" {
		remote, err := s.fetchDeploymentFromHome(r.Context(), name)
		if err != nil {
			s.log.Warn("Fetching deployment %s from home: %v", name, err)
		} else {
			d, ok = remote, true
		}
	}
	return d, ok
}

// handleWebhookDeploy enqueues a deployment run. Requests carry a bearer
// token like everything else; a configured webhook secret is verified on
// top of that.
func (s *Server) handleWebhookDeploy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	d, ok := s.resolveDeployment(r, name)
	if !ok {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	body, err := readWebhookBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	if secret := s.webhookSecret(name); secret != "" {
		if !verifyWebhookSignature(r, body, secret) {
			writeError(w, http.StatusUnauthorized, "signature mismatch")
			return
		}
	}

	j := deploy.NewJob(d, webhookTriggerSource(r))
	s.queue.Enqueue(j)
	s.log.Info("Queued deployment %s as %s", name, j.ID)
	writeJSON(w, http.StatusOK, webhookResponse{
		Success: true,
		Message: fmt.Sprintf("deployment %s queued", name),
		JobID:   j.ID,
	})
}

// webhookSecret returns the secret guarding a deployment's webhook, or ""
// when none is configured.
func (s *Server) webhookSecret(deployment string) string {
	if e, ok := s.cfg.FindWebhook(deployment); ok && e.Secret != "" {
		return e.Secret
	}
	return s.cfg.Auth.WebhookSecrets[deployment]
}

// handleWebhookShutdown stops a deployment synchronously and returns the
// shutdown output.
func (s *Server) handleWebhookShutdown(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, "deploy module disabled")
		return
	}

	name := chi.URLParam(r, "name")
	d, ok := s.resolveDeployment(r, name)
	if !ok {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	var out strings.Builder
	if err := s.executor.Shutdown(r.Context(), d, &out); err != nil {
		s.log.Error("Shutdown for %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "shutdown failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		Success: true,
		Message: fmt.Sprintf("deployment %s shut down\n%s", name, out.String()),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.queue.Find(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.queue.PendingLen(),
		"jobs":    s.queue.Jobs(),
		"history": s.queue.History(),
	})
}

func (s *Server) handleDeployHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.store.RecentDeploys(r.URL.Query().Get("agent"), limit)
	if err != nil {
		s.log.Error("Querying deploy history: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []storage.DeployRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployments": rows,
		"count":       len(rows),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}

	query := storage.MetricsQuery{Agent: r.URL.Query().Get("agent")}
	query.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			query.From = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			query.To = t
		}
	}

	kind := r.URL.Query().Get("type")
	var (
		rows  any
		count int
		err   error
	)
	switch kind {
	case "hourly":
		var aggs []storage.Aggregate
		aggs, err = s.store.HourlyMetrics(query)
		rows, count = aggs, len(aggs)
	case "daily":
		var aggs []storage.Aggregate
		aggs, err = s.store.DailyMetrics(query)
		rows, count = aggs, len(aggs)
	default:
		kind = "raw"
		var raws []storage.MetricRecord
		raws, err = s.store.RawMetrics(query)
		rows, count = raws, len(raws)
	}
	if err != nil {
		s.log.Error("Querying metrics: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": rows,
		"count":   count,
		"type":    kind,
	})
}

func (s *Server) handleSuspicious(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.store.RecentSuspicious(limit)
	if err != nil {
		s.log.Error("Querying suspicious requests: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleAgents lists the agents this home node is configured to watch.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	type agentInfo struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	out := make([]agentInfo, 0, len(s.cfg.Agents))
	for _, a := range s.cfg.Agents {
		out = append(out, agentInfo{Name: a.Name, Address: a.Address})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// handleAgentStatuses returns the observed state of every polled agent.
func (s *Server) handleAgentStatuses(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}
	rows, err := s.store.ListAgents()
	if err != nil {
		s.log.Error("Querying agents: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []storage.AgentStatus{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}
	name := chi.URLParam(r, "name")
	row, ok, err := s.store.GetAgentStatus(name)
	if err != nil {
		s.log.Error("Querying agent %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, row)
}
