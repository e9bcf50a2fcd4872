package anchor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the anchoring engine's tuning knobs.
type Config struct {
	// BatchSize is the maximum number of records per batch; reaching it
	// triggers an immediate flush.
	BatchSize int
	// BatchInterval is the maximum wait before a non-empty buffer is
	// force-flushed.
	BatchInterval time.Duration
	// OracleTimeout bounds each oracle reference query.
	OracleTimeout time.Duration
	// RetryBackoff is the base delay between oracle retry attempts; the
	// delay grows linearly with the attempt number.
	RetryBackoff time.Duration
	// OracleRetries is the number of oracle attempts per flush cycle
	// before the batch is returned to the buffer.
	OracleRetries int
	// MaxPending caps the pending buffer; Submit rejects beyond it.
	MaxPending int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 10 * time.Second
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 5 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.OracleRetries <= 0 {
		c.OracleRetries = 3
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 10_000
	}
}

// Verification is the result of checking one log record against its
// anchor. FailedCheck names the specific sub-check that failed so audit
// investigations can distinguish content tampering from store corruption.
type Verification struct {
	Verified        bool        `json:"verified"`
	LogID           string      `json:"log_id"`
	LogHash         Hash256     `json:"log_hash"`
	PrevHash        Hash256     `json:"prev_hash"`
	MerkleRoot      Hash256     `json:"merkle_root"`
	OracleHeight    int64       `json:"oracle_height"`
	OracleTimestamp int64       `json:"oracle_timestamp"`
	Proof           MerkleProof `json:"merkle_proof"`
	FailedCheck     string      `json:"failed_check,omitempty"`
}

// Pipeline lifecycle events published through the Notifier.
const (
	EventBatchAnchored      = "batch.anchored"
	EventVerificationFailed = "verification.failed"
	EventOracleDegraded     = "oracle.degraded"
)

// Notifier receives pipeline lifecycle events. Dispatch is called inline
// on the anchoring and verification paths, so implementations must hand
// off quickly and deliver asynchronously.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// Engine is the audit anchoring pipeline: it buffers accepted records,
// links them into the hash chain, builds a Merkle tree per batch, stamps
// the batch with an oracle reference, and persists one anchor record per
// log entry.
//
// Anchoring is a single-writer stage: batches never run concurrently.
// Throughput is gained by widening BatchSize, not by parallel batches,
// so the chain stays a single linear sequence.
type Engine struct {
	cfg      Config
	linker   *Linker
	store    Store
	oracle   Oracle
	logger   *zap.Logger
	notifier Notifier

	mu         sync.Mutex
	pending    []*LogRecord
	pendingIDs map[string]struct{}
	flushCh    chan struct{}

	flushMu sync.Mutex // serializes in-flight batches
}

// NewEngine creates an Engine over the given store and oracle. The chain
// tip is loaded from the store so a restarted process resumes exactly
// where the last committed batch left off.
func NewEngine(ctx context.Context, cfg Config, store Store, oracle Oracle, logger *zap.Logger) (*Engine, error) {
	cfg.applyDefaults()

	tip, err := store.LoadChainState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chain state: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		linker:     NewLinker(tip),
		store:      store,
		oracle:     oracle,
		logger:     logger,
		pendingIDs: make(map[string]struct{}),
		flushCh:    make(chan struct{}, 1),
	}, nil
}

// SetNotifier attaches a lifecycle event sink. Call before Run; nil
// disables event dispatch.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

func (e *Engine) dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if e.notifier != nil {
		e.notifier.Dispatch(ctx, eventType, payload)
	}
}

// Submit validates a record and appends it to the pending buffer in
// arrival order. Records that cannot be canonically encoded are rejected
// here with an *EncodingError — they never enter the chain silently.
func (e *Engine) Submit(ctx context.Context, r *LogRecord) error {
	if err := r.Validate(); err != nil {
		recordsRejectedTotal.Inc()
		return err
	}

	// A record that is already anchored must not be anchored twice.
	if _, err := e.store.Get(ctx, r.ID); err == nil {
		recordsRejectedTotal.Inc()
		return fmt.Errorf("submit %s: %w", r.ID, ErrAlreadyAnchored)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("submit %s: %w", r.ID, err)
	}

	e.mu.Lock()
	if len(e.pending) >= e.cfg.MaxPending {
		e.mu.Unlock()
		recordsRejectedTotal.Inc()
		return fmt.Errorf("submit %s: pending buffer full (%d records)", r.ID, e.cfg.MaxPending)
	}
	if _, dup := e.pendingIDs[r.ID]; dup {
		e.mu.Unlock()
		recordsRejectedTotal.Inc()
		return fmt.Errorf("submit %s: %w", r.ID, ErrAlreadyAnchored)
	}
	e.pending = append(e.pending, r)
	e.pendingIDs[r.ID] = struct{}{}
	full := len(e.pending) >= e.cfg.BatchSize
	e.mu.Unlock()

	recordsSubmittedTotal.Inc()
	if full {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of buffered, not-yet-anchored records.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Tip returns the current in-memory chain tip.
func (e *Engine) Tip() Hash256 {
	return e.linker.Tip()
}

// Run drives the batch scheduler until ctx is cancelled: the buffer is
// flushed when it reaches BatchSize or after BatchInterval, whichever
// comes first. On shutdown one final flush is attempted so cleanly
// stopped processes leave no buffered records behind.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flushOnce(ctx)
		case <-e.flushCh:
			e.flushOnce(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), e.cfg.OracleTimeout+5*time.Second)
			for e.Pending() > 0 {
				if err := e.flushOnce(drainCtx); err != nil {
					break
				}
			}
			cancel()
			return
		}
	}
}

// Flush forces one flush cycle. Exposed for tests and for operational
// tooling; Run calls it on its own schedule.
func (e *Engine) Flush(ctx context.Context) error {
	return e.flushOnce(ctx)
}

func (e *Engine) flushOnce(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	n := len(e.pending)
	if n == 0 {
		e.mu.Unlock()
		return nil
	}
	if n > e.cfg.BatchSize {
		n = e.cfg.BatchSize
	}
	batch := e.pending[:n:n]
	e.pending = e.pending[n:]
	e.mu.Unlock()

	err := e.anchorBatch(ctx, batch)
	if err == nil {
		e.signalIfBacklogged()
		return nil
	}

	var encErr *EncodingError
	if errors.As(err, &encErr) || errors.Is(err, ErrEmptyBatch) {
		// Invariant violation: records are validated at Submit, so the
		// batch cannot legitimately fail to encode. Abort the cycle and
		// drop the batch rather than poisoning the scheduler.
		e.logger.Error("anchoring aborted by internal invariant violation",
			zap.Int("records", len(batch)),
			zap.Error(err),
		)
		e.dropIDs(batch)
		return err
	}

	// Transient failure (oracle or store): requeue the batch at the
	// front so no chain position is lost and order is preserved. The
	// chain tip was never committed, so the retry re-links from the same
	// tip and reproduces identical hashes.
	e.logger.Warn("anchoring failed, batch requeued",
		zap.Int("records", len(batch)),
		zap.Error(err),
	)
	e.mu.Lock()
	e.pending = append(batch, e.pending...)
	e.mu.Unlock()
	return err
}

// signalIfBacklogged queues another flush when a full batch is still
// buffered, so a burst larger than BatchSize drains batch by batch
// instead of waiting out the next interval tick.
func (e *Engine) signalIfBacklogged() {
	e.mu.Lock()
	backlog := len(e.pending) >= e.cfg.BatchSize
	e.mu.Unlock()
	if backlog {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) dropIDs(batch []*LogRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range batch {
		delete(e.pendingIDs, r.ID)
	}
}

// anchorBatch runs the pipeline for one batch: link → tree → oracle →
// proofs → atomic persist → chain commit. Every step before the persist
// is repeatable because the chain tip only advances after PutBatch
// succeeds.
func (e *Engine) anchorBatch(ctx context.Context, batch []*LogRecord) error {
	start := time.Now()

	leaves, newTip, err := e.linker.LinkBatch(batch)
	if err != nil {
		return fmt.Errorf("link batch: %w", err)
	}

	tree, err := BuildTree(leaves)
	if err != nil {
		return fmt.Errorf("build tree: %w", err)
	}

	ref, err := e.oracleReference(ctx)
	if err != nil {
		return err
	}

	batchID := uuid.New()
	now := time.Now().UTC()
	records := make([]AnchorRecord, len(batch))
	for i, r := range batch {
		proof, perr := tree.Proof(i)
		if perr != nil {
			return fmt.Errorf("proof for %s: %w", r.ID, perr)
		}
		records[i] = AnchorRecord{
			LogID:           r.ID,
			LogHash:         leaves[i],
			PrevHash:        *r.PrevHash,
			MerkleRoot:      tree.Root,
			OracleHeight:    ref.Height,
			OracleTimestamp: ref.Timestamp,
			Proof:           *proof,
			BatchID:         batchID,
			AnchoredAt:      now,
		}
	}

	if err := e.store.PutBatch(ctx, records, newTip); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	e.linker.Commit(newTip)
	e.dropIDs(batch)

	batchesAnchoredTotal.Inc()
	batchSizeHist.Observe(float64(len(batch)))
	anchorDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("batch anchored",
		zap.String("batch_id", batchID.String()),
		zap.Int("records", len(batch)),
		zap.String("root", tree.Root.String()),
		zap.Int64("oracle_height", ref.Height),
	)
	e.dispatch(ctx, EventBatchAnchored, map[string]string{
		"batch_id":      batchID.String(),
		"records":       strconv.Itoa(len(batch)),
		"merkle_root":   tree.Root.String(),
		"oracle_height": strconv.FormatInt(ref.Height, 10),
	})
	return nil
}

// oracleReference queries the oracle with a bounded timeout, retrying
// with linear backoff. Oracle failure is degraded operation, not batch
// invalidity: the caller keeps the records buffered.
func (e *Engine) oracleReference(ctx context.Context) (Reference, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.OracleRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
		ref, err := e.oracle.CurrentReference(callCtx)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		oracleFailuresTotal.Inc()
		e.logger.Warn("oracle query failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < e.cfg.OracleRetries {
			select {
			case <-time.After(time.Duration(attempt) * e.cfg.RetryBackoff):
			case <-ctx.Done():
				return Reference{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, ctx.Err())
			}
		}
	}
	e.dispatch(ctx, EventOracleDegraded, map[string]string{
		"attempts": strconv.Itoa(e.cfg.OracleRetries),
		"error":    lastErr.Error(),
	})
	return Reference{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, lastErr)
}

// VerifyByID checks the stored anchor for logID without the original
// record content: the stored leaf must match the stored log hash, the
// inclusion proof must recompute to its root, and the proof root must
// match the stored batch root. Read-only and idempotent.
func (e *Engine) VerifyByID(ctx context.Context, logID string) (*Verification, error) {
	rec, err := e.store.Get(ctx, logID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			verificationChecksTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	return e.checkAnchor(ctx, rec, nil)
}

// VerifyRecord performs the full verification for a caller-supplied
// record: its hash is recomputed from content and compared to the stored
// anchor before the proof checks run. This is the contract auditors use
// to prove a record was not altered after anchoring. When the caller
// leaves PrevHash unset, the chain position persisted with the anchor is
// used, so verification needs no out-of-band lookup of the prior record.
func (e *Engine) VerifyRecord(ctx context.Context, r *LogRecord) (*Verification, error) {
	rec, err := e.store.Get(ctx, r.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			verificationChecksTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	prev := rec.PrevHash
	if r.PrevHash != nil {
		prev = *r.PrevHash
	}
	recomputed, err := HashRecord(r, prev)
	if err != nil {
		return nil, err
	}
	return e.checkAnchor(ctx, rec, &recomputed)
}

// checkAnchor runs the verification sub-checks in order. When a check
// fails, the populated Verification is returned together with the typed
// sentinel so callers can both inspect and errors.Is the failure.
func (e *Engine) checkAnchor(ctx context.Context, rec *AnchorRecord, recomputed *Hash256) (*Verification, error) {
	v := &Verification{
		LogID:           rec.LogID,
		LogHash:         rec.LogHash,
		PrevHash:        rec.PrevHash,
		MerkleRoot:      rec.MerkleRoot,
		OracleHeight:    rec.OracleHeight,
		OracleTimestamp: rec.OracleTimestamp,
		Proof:           rec.Proof,
	}

	fail := func(check string, err error) (*Verification, error) {
		v.FailedCheck = check
		verificationChecksTotal.WithLabelValues(check).Inc()
		e.dispatch(ctx, EventVerificationFailed, map[string]string{
			"log_id":       rec.LogID,
			"failed_check": check,
		})
		return v, err
	}

	if recomputed != nil && *recomputed != rec.LogHash {
		return fail("hash_mismatch", fmt.Errorf("verify %s: %w", rec.LogID, ErrHashMismatch))
	}
	if rec.Proof.Leaf != rec.LogHash {
		return fail("hash_mismatch", fmt.Errorf("verify %s: stored leaf diverges from log hash: %w", rec.LogID, ErrHashMismatch))
	}
	if rec.Proof.Root != rec.MerkleRoot || !VerifyProof(&rec.Proof) {
		return fail("proof_invalid", fmt.Errorf("verify %s: %w", rec.LogID, ErrProofInvalid))
	}

	v.Verified = true
	verificationChecksTotal.WithLabelValues("ok").Inc()
	return v, nil
}

// ExportProofs returns the anchor records for the given log IDs in order,
// for packaging into an offline-verifiable proof bundle.
func (e *Engine) ExportProofs(ctx context.Context, logIDs []string) ([]AnchorRecord, error) {
	if len(logIDs) == 0 {
		return nil, fmt.Errorf("export: no log IDs given")
	}
	return e.store.GetMany(ctx, logIDs)
}

// ChainInfo is the operator-facing overview of the anchoring pipeline.
type ChainInfo struct {
	Anchored int64   `json:"anchored"`
	LastHash Hash256 `json:"last_hash"`
	Pending  int     `json:"pending"`
}

// Overview reports the anchored record count, current chain tip, and
// pending buffer depth.
func (e *Engine) Overview(ctx context.Context) (*ChainInfo, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count anchors: %w", err)
	}
	return &ChainInfo{
		Anchored: count,
		LastHash: e.linker.Tip(),
		Pending:  e.Pending(),
	}, nil
}
