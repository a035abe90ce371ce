// Package api reports the wall's state to a remote server with periodic
// heartbeats. Identity comes from a JSON file; without one the client
// runs unregistered and skips every beat.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"
)

// DefaultInterval is used when the identity file does not set one.
const DefaultInterval = 60 * time.Second

// Identity is the player's registration with the remote server.
type Identity struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Interval int    `json:"heartbeat_interval_sec"`
}

// Status is what the wall reports about itself on each beat.
type Status struct {
	Slots        int     `json:"slots"`
	LiveSessions int64   `json:"live_sessions"`
	Cycles       uint64  `json:"cycles"`
	URLs         int     `json:"urls"`
	CPUTempC     float64 `json:"cpu_temp_c,omitempty"`
	DiskUsedPct  float64 `json:"disk_used_pct,omitempty"`
	Throttled    bool    `json:"throttled"`
}

// StatusFunc is called once per beat.
type StatusFunc func() Status

// Heartbeat is the payload POSTed to {endpoint}/heartbeat.
type Heartbeat struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	Name      string  `json:"name,omitempty"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime_sec"`
	Version   string  `json:"version"`
	Arch      string  `json:"arch"`
	OS        string  `json:"os"`
	Status    Status  `json:"status"`
}

// Client manages the heartbeat loop.
type Client struct {
	mu      sync.RWMutex
	id      Identity
	path    string
	version string
	startAt time.Time
	status  StatusFunc
	httpCli *http.Client
	logger  *slog.Logger
}

// NewClient loads the identity file at path. A missing or broken file is
// logged, not returned: the client then runs unregistered.
func NewClient(path, version string, status StatusFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		path:    path,
		version: version,
		startAt: time.Now(),
		status:  status,
		httpCli: &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "api"),
	}

	if err := c.Reload(); err != nil {
		c.logger.Warn("identity not loaded, running unregistered", "error", err)
	}
	return c
}

// Reload re-reads the identity file. Safe to call at runtime.
func (c *Client) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read identity: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("parse identity: %w", err)
	}

	c.mu.Lock()
	c.id = id
	c.mu.Unlock()

	c.logger.Info("identity loaded", "id", id.ID, "endpoint", id.Endpoint, "interval", c.Interval())
	return nil
}

// Identity returns the current identity (thread-safe).
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Interval is the configured beat period.
func (c *Client) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.id.Interval <= 0 {
		return DefaultInterval
	}
	return time.Duration(c.id.Interval) * time.Second
}

// Start sends one beat immediately and then one per interval until ctx is
// done.
func (c *Client) Start(ctx context.Context) {
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	c.logger.Info("heartbeat started", "every", c.Interval())
	c.beat(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			c.beat(ctx)
		}
	}
}

func (c *Client) beat(ctx context.Context) {
	if err := c.Send(ctx); err != nil {
		c.logger.Warn("heartbeat failed", "error", err)
	}
}

// ErrUnregistered is returned by Send when no endpoint or id is set.
var ErrUnregistered = errors.New("heartbeat skipped: missing endpoint or id")

// Send POSTs a single heartbeat.
func (c *Client) Send(ctx context.Context) error {
	id := c.Identity()
	if id.Endpoint == "" || id.ID == "" {
		return ErrUnregistered
	}

	hb := Heartbeat{
		ID:        id.ID,
		Key:       id.Key,
		Name:      id.Name,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(c.startAt).Seconds(),
		Version:   c.version,
		Arch:      runtime.GOARCH,
		OS:        runtime.GOOS,
	}
	if c.status != nil {
		hb.Status = c.status()
	}

	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, id.Endpoint+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("post heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat response: %d", resp.StatusCode)
	}

	c.logger.Debug("heartbeat sent", "status", resp.StatusCode, "live", hb.Status.LiveSessions)
	return nil
}
