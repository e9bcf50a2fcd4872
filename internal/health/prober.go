// Package health runs periodic reachability probes against the external
// oracle so operators can tell "oracle down" apart from "anchoring
// broken" before a batch ever fails.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/paystream-io/auditanchor/internal/anchor"
)

var oracleUp = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "auditanchor_oracle_up",
	Help: "1 if the last oracle probe succeeded, 0 otherwise.",
})

// Config holds probe configuration.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Status is the last observed oracle state.
type Status struct {
	Reachable   bool      `json:"reachable"`
	LastHeight  int64     `json:"last_height,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	Error       string    `json:"error,omitempty"`
}

// OracleProber periodically queries the oracle and records the outcome.
type OracleProber struct {
	oracle anchor.Oracle
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	status Status
}

// NewOracleProber creates a prober for the given oracle.
func NewOracleProber(oracle anchor.Oracle, cfg Config, logger *zap.Logger) *OracleProber {
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &OracleProber{oracle: oracle, cfg: cfg, logger: logger}
}

// Run probes once immediately and then on every tick until ctx is done.
func (p *OracleProber) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Probe queries the oracle once with a bounded timeout.
func (p *OracleProber) Probe(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	ref, err := p.oracle.CurrentReference(callCtx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastChecked = time.Now().UTC()
	if err != nil {
		p.status.Reachable = false
		p.status.Error = err.Error()
		oracleUp.Set(0)
		p.logger.Warn("oracle probe failed", zap.Error(err))
		return
	}
	p.status.Reachable = true
	p.status.LastHeight = ref.Height
	p.status.Error = ""
	oracleUp.Set(1)
}

// Status returns the last observed oracle state.
func (p *OracleProber) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
