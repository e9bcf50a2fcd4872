package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Reference is the external timestamping reference attached to a batch:
// the oracle's current height and unix timestamp.
type Reference struct {
	Height    int64 `json:"height"`
	Timestamp int64 `json:"timestamp"`
}

// Oracle supplies a monotonically non-decreasing reference used to
// timestamp a batch. The anchoring engine treats it as a black box that
// may be slow or unreachable; failures are transient, never proof that a
// batch is invalid.
type Oracle interface {
	CurrentReference(ctx context.Context) (Reference, error)
}

// SystemOracle derives references from the local clock, with the height
// advancing once per call. It exists for development and testing; it
// provides no external trust.
type SystemOracle struct {
	mu     sync.Mutex
	height int64
	lastTS int64
}

// NewSystemOracle creates a SystemOracle starting at height 0.
func NewSystemOracle() *SystemOracle {
	return &SystemOracle{}
}

// CurrentReference implements Oracle.
func (o *SystemOracle) CurrentReference(_ context.Context) (Reference, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.height++
	ts := time.Now().Unix()
	if ts < o.lastTS {
		ts = o.lastTS // keep the monotonic contract across clock steps
	}
	o.lastTS = ts
	return Reference{Height: o.height, Timestamp: ts}, nil
}

// HTTPOracle queries an external ledger gateway for its current height
// and timestamp over HTTP. The endpoint is expected to answer GET with
// {"height": <int>, "timestamp": <unix seconds>}.
type HTTPOracle struct {
	url        string
	httpClient *http.Client

	mu   sync.Mutex
	last Reference
}

// NewHTTPOracle creates an HTTPOracle for the given endpoint URL. timeout
// bounds each request; callers additionally bound the call through ctx.
func NewHTTPOracle(url string, timeout time.Duration) *HTTPOracle {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOracle{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CurrentReference implements Oracle. Transport and decode failures are
// reported as ErrOracleUnavailable. A reference that regresses below the
// last one seen is clamped so callers always observe a non-decreasing
// sequence.
func (o *HTTPOracle) CurrentReference(ctx context.Context) (Reference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return Reference{}, fmt.Errorf("build oracle request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reference{}, fmt.Errorf("%w: oracle returned %d", ErrOracleUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Reference{}, fmt.Errorf("%w: read response: %v", ErrOracleUnavailable, err)
	}

	var ref Reference
	if err := json.Unmarshal(body, &ref); err != nil {
		return Reference{}, fmt.Errorf("%w: decode response: %v", ErrOracleUnavailable, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if ref.Height < o.last.Height {
		ref.Height = o.last.Height
	}
	if ref.Timestamp < o.last.Timestamp {
		ref.Timestamp = o.last.Timestamp
	}
	o.last = ref
	return ref, nil
}
