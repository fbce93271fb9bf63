package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/internal/token"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/metrics"
	"github.com/razumnyak/infractl/storage"
	"github.com/razumnyak/infractl/version"
)

// Poller periodically checks the health of configured agents and records
// the result. It runs only on the home node.
type Poller struct {
	Agents []config.AgentConfig
	Secret []byte
	Store  *storage.Store
	Logger logger.Logger
}

// Run polls each agent on its own interval until the context ends.
func (p *Poller) Run(ctx context.Context) {
	for _, agent := range p.Agents {
		go p.pollLoop(ctx, agent)
	}
	<-ctx.Done()
}

func (p *Poller) pollLoop(ctx context.Context, agent config.AgentConfig) {
	interval, err := config.ParseDuration(agent.HealthInterval)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}
	timeout, err := config.ParseDuration(agent.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx, client, agent)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, client, agent)
		}
	}
}

func (p *Poller) poll(ctx context.Context, client *http.Client, agent config.AgentConfig) {
	status := storage.AgentStatus{
		Name:    agent.Name,
		Address: agent.Address,
		Status:  "online",
	}

	health, err := p.checkHealth(ctx, client, agent)
	if err != nil {
		status.Status = "offline"
		status.LastError = err.Error()
		p.Logger.Warn("Agent %s is offline: %v", agent.Name, err)
	} else {
		status.Version = health.Version
		p.Logger.Debug("Agent %s is online (v%s)", agent.Name, health.Version)
		if health.System != nil {
			status.UptimeSeconds = int64(health.System.UptimeSeconds)
			p.storeSample(agent.Name, *health.System)
		}
	}

	if err := p.Store.UpsertAgentStatus(status); err != nil {
		p.Logger.Error("Recording status for agent %s: %v", agent.Name, err)
	}
}

// storeSample feeds the agent's health snapshot into the metrics tiers so
// the dashboard charts every agent, not just the home node.
func (p *Poller) storeSample(agent string, snap metrics.Snapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	if err := p.Store.InsertSnapshot(agent, snap); err != nil {
		p.Logger.Error("Storing sample for agent %s: %v", agent, err)
	}
}

type agentHealth struct {
	Version string            `json:"version"`
	System  *metrics.Snapshot `json:"system"`
}

func (p *Poller) checkHealth(ctx context.Context, client *http.Client, agent config.AgentConfig) (agentHealth, error) {
	var health agentHealth

	tok, err := token.Mint(p.Secret, "home", time.Hour)
	if err != nil {
		return health, fmt.Errorf("minting token: %w", err)
	}

	url := homeURL(agent.Address) + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return health, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return health, fmt.Errorf("health returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("decoding health response: %w", err)
	}
	return health, nil
}
