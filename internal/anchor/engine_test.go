package anchor_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/paystream-io/auditanchor/internal/anchor"
)

var ctx = context.Background()

// flakyOracle fails its first failures calls, then succeeds.
type flakyOracle struct {
	failures int
	calls    int
	height   int64
}

func (o *flakyOracle) CurrentReference(context.Context) (anchor.Reference, error) {
	o.calls++
	if o.calls <= o.failures {
		return anchor.Reference{}, anchor.ErrOracleUnavailable
	}
	o.height++
	return anchor.Reference{Height: o.height, Timestamp: time.Now().Unix()}, nil
}

func newTestEngine(t *testing.T, store anchor.Store, oracle anchor.Oracle) *anchor.Engine {
	t.Helper()
	cfg := anchor.Config{
		BatchSize:     16,
		BatchInterval: time.Hour, // flushes are driven explicitly in tests
		OracleTimeout: time.Second,
		RetryBackoff:  time.Millisecond,
		OracleRetries: 1,
	}
	engine, err := anchor.NewEngine(ctx, cfg, store, oracle, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func TestEngine_endToEnd(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	a := testRecord("log_a")
	b := testRecord("log_b")
	if err := engine.Submit(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(ctx, b); err != nil {
		t.Fatal(err)
	}
	if engine.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", engine.Pending())
	}

	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if engine.Pending() != 0 {
		t.Errorf("pending after flush = %d, want 0", engine.Pending())
	}

	// The first record links against the zero hash; the second against
	// the first's resulting hash.
	if a.PrevHash == nil || !a.PrevHash.IsZero() {
		t.Error("first-ever record must have the zero previous hash")
	}
	ha, err := anchor.HashRecord(a, anchor.ZeroHash)
	if err != nil {
		t.Fatal(err)
	}
	if b.PrevHash == nil || *b.PrevHash != ha {
		t.Error("second record must link against the first record's hash")
	}

	va, err := engine.VerifyByID(ctx, "log_a")
	if err != nil {
		t.Fatalf("verify a: %v", err)
	}
	vb, err := engine.VerifyByID(ctx, "log_b")
	if err != nil {
		t.Fatalf("verify b: %v", err)
	}
	if !va.Verified || !vb.Verified {
		t.Error("both records must verify")
	}
	if va.MerkleRoot != vb.MerkleRoot {
		t.Error("records of one batch must share a merkle root")
	}
	if va.OracleHeight != vb.OracleHeight {
		t.Error("records of one batch must share an oracle reference")
	}
	if va.LogHash != ha {
		t.Errorf("stored log hash %s, want %s", va.LogHash, ha)
	}
}

func TestEngine_verifyIsIdempotent(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	v1, err := engine.VerifyByID(ctx, "log_a")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := engine.VerifyByID(ctx, "log_a")
	if err != nil {
		t.Fatal(err)
	}
	if v1.Verified != v2.Verified || v1.LogHash != v2.LogHash ||
		v1.MerkleRoot != v2.MerkleRoot || v1.OracleHeight != v2.OracleHeight ||
		v1.OracleTimestamp != v2.OracleTimestamp {
		t.Error("repeated verification must return identical results")
	}
}

func TestEngine_verifyRecord_detectsContentTampering(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	r := testRecord("log_a")
	if err := engine.Submit(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// Unaltered content verifies.
	v, err := engine.VerifyRecord(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verified {
		t.Error("unaltered record must verify")
	}

	// A single changed character fails the hash check.
	altered := *r
	altered.Description = "payment created!"
	v, err = engine.VerifyRecord(ctx, &altered)
	if !errors.Is(err, anchor.ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
	if v == nil || v.Verified || v.FailedCheck != "hash_mismatch" {
		t.Errorf("verification must name the failed check, got %+v", v)
	}
}

func TestEngine_verifyRecordWithoutPrevHash(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(ctx, testRecord("log_b")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// A non-genesis record verifies from content alone: the anchored
	// chain position fills in for an unset PrevHash.
	v, err := engine.VerifyRecord(ctx, testRecord("log_b"))
	if err != nil {
		t.Fatalf("verify without prev hash: %v", err)
	}
	if !v.Verified {
		t.Errorf("record must verify without a caller-supplied prev hash, got %+v", v)
	}

	// The response carries the chain position.
	ha, err := anchor.HashRecord(testRecord("log_a"), anchor.ZeroHash)
	if err != nil {
		t.Fatal(err)
	}
	if v.PrevHash != ha {
		t.Errorf("prev hash = %s, want the prior record's hash %s", v.PrevHash, ha)
	}
	if byID, err := engine.VerifyByID(ctx, "log_b"); err != nil || byID.PrevHash != ha {
		t.Errorf("VerifyByID must expose the same prev hash, got %v / %v", byID, err)
	}

	// Tampered content is still caught without a prev hash.
	altered := testRecord("log_b")
	altered.Description = "payment created!"
	if _, err := engine.VerifyRecord(ctx, altered); !errors.Is(err, anchor.ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}

	// An explicit but wrong prev hash is a mismatch, not a pass.
	wrongPrev := testRecord("log_b")
	wrongPrev.PrevHash = &anchor.Hash256{0x01}
	if _, err := engine.VerifyRecord(ctx, wrongPrev); !errors.Is(err, anchor.ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch for a wrong prev hash, got %v", err)
	}
}

func TestEngine_corruptedStoreIsDetected(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// Corrupt the stored log hash directly in the store.
	if !store.Corrupt("log_a", func(r *anchor.AnchorRecord) {
		r.LogHash[0] ^= 0xff
	}) {
		t.Fatal("corrupt failed")
	}

	v, err := engine.VerifyByID(ctx, "log_a")
	if !errors.Is(err, anchor.ErrHashMismatch) && !errors.Is(err, anchor.ErrProofInvalid) {
		t.Errorf("expected a typed integrity failure, got %v", err)
	}
	if v == nil || v.Verified {
		t.Error("corrupted anchor must never report verified")
	}

	// Corrupt the stored proof root as well.
	store.Corrupt("log_a", func(r *anchor.AnchorRecord) {
		r.LogHash[0] ^= 0xff // restore
		r.Proof.Root[3] ^= 0x20
		r.MerkleRoot = r.Proof.Root
	})
	v, err = engine.VerifyByID(ctx, "log_a")
	if !errors.Is(err, anchor.ErrProofInvalid) {
		t.Errorf("expected ErrProofInvalid, got %v", err)
	}
	if v == nil || v.Verified || v.FailedCheck != "proof_invalid" {
		t.Errorf("verification must name the proof check, got %+v", v)
	}
}

func TestEngine_verifyUnknownID(t *testing.T) {
	engine := newTestEngine(t, anchor.NewMemoryStore(), &flakyOracle{})

	_, err := engine.VerifyByID(ctx, "log_missing")
	if !errors.Is(err, anchor.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_rejectsInvalidRecord(t *testing.T) {
	engine := newTestEngine(t, anchor.NewMemoryStore(), &flakyOracle{})

	bad := testRecord("log_bad")
	bad.Action = "made.up"
	err := engine.Submit(ctx, bad)
	var encErr *anchor.EncodingError
	if !errors.As(err, &encErr) {
		t.Errorf("expected EncodingError, got %v", err)
	}
	if engine.Pending() != 0 {
		t.Error("rejected record must not enter the buffer")
	}
}

func TestEngine_rejectsDuplicates(t *testing.T) {
	engine := newTestEngine(t, anchor.NewMemoryStore(), &flakyOracle{})

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(ctx, testRecord("log_a")); !errors.Is(err, anchor.ErrAlreadyAnchored) {
		t.Errorf("pending duplicate: expected ErrAlreadyAnchored, got %v", err)
	}

	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(ctx, testRecord("log_a")); !errors.Is(err, anchor.ErrAlreadyAnchored) {
		t.Errorf("anchored duplicate: expected ErrAlreadyAnchored, got %v", err)
	}
}

func TestEngine_oracleOutageKeepsRecordsBuffered(t *testing.T) {
	store := anchor.NewMemoryStore()
	oracle := &flakyOracle{failures: 1}
	engine := newTestEngine(t, store, oracle)

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(ctx, testRecord("log_b")); err != nil {
		t.Fatal(err)
	}

	// First flush hits the oracle outage: nothing is lost, nothing is
	// committed.
	if err := engine.Flush(ctx); !errors.Is(err, anchor.ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	if engine.Pending() != 2 {
		t.Errorf("pending after outage = %d, want 2", engine.Pending())
	}
	if !engine.Tip().IsZero() {
		t.Error("chain tip must not advance on a failed batch")
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("store must stay empty after a failed batch, has %d", n)
	}

	// The oracle recovers; the retry anchors the same records at the
	// same chain positions.
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	va, err := engine.VerifyByID(ctx, "log_a")
	if err != nil || !va.Verified {
		t.Fatalf("verify after recovery: %v", err)
	}
	if va.LogHash.IsZero() {
		t.Error("anchored hash missing")
	}
}

func TestEngine_resumesChainTipAcrossRestart(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	tip := engine.Tip()
	if tip.IsZero() {
		t.Fatal("tip must advance after anchoring")
	}

	// A fresh engine over the same store picks up where the last
	// committed batch left off.
	restarted := newTestEngine(t, store, &flakyOracle{})
	if restarted.Tip() != tip {
		t.Errorf("restarted tip = %s, want %s", restarted.Tip(), tip)
	}
}

func TestEngine_exportProofs(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	for _, id := range []string{"log_a", "log_b", "log_c"} {
		if err := engine.Submit(ctx, testRecord(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	records, err := engine.ExportProofs(ctx, []string{"log_c", "log_a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].LogID != "log_c" || records[1].LogID != "log_a" {
		t.Errorf("export order must follow the request order, got %+v", records)
	}

	if _, err := engine.ExportProofs(ctx, []string{"log_missing"}); !errors.Is(err, anchor.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_overview(t *testing.T) {
	store := anchor.NewMemoryStore()
	engine := newTestEngine(t, store, &flakyOracle{})

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(ctx, testRecord("log_b")); err != nil {
		t.Fatal(err)
	}

	info, err := engine.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Anchored != 1 || info.Pending != 1 {
		t.Errorf("overview = %+v, want 1 anchored / 1 pending", info)
	}
	if info.LastHash != engine.Tip() {
		t.Error("overview must report the current chain tip")
	}
}

func TestEngine_runDrainsBurstsLargerThanBatchSize(t *testing.T) {
	store := anchor.NewMemoryStore()
	cfg := anchor.Config{
		BatchSize:     4,
		BatchInterval: time.Hour, // only batch-size triggers may drain this
		OracleTimeout: time.Second,
		RetryBackoff:  time.Millisecond,
		OracleRetries: 1,
	}
	engine, err := anchor.NewEngine(ctx, cfg, store, &flakyOracle{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	// Fill three batches' worth before the scheduler starts, so a single
	// queued flush signal is all it gets.
	for i := 0; i < 12; i++ {
		if err := engine.Submit(ctx, testRecord("log_"+strconv.Itoa(i))); err != nil {
			t.Fatal(err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(runCtx)
	}()

	deadline := time.After(2 * time.Second)
	for engine.Pending() != 0 {
		select {
		case <-deadline:
			t.Fatalf("burst not drained, %d records still pending", engine.Pending())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if n, _ := store.Count(ctx); n != 12 {
		t.Errorf("anchored = %d, want 12", n)
	}
}

func TestEngine_runFlushesOnInterval(t *testing.T) {
	store := anchor.NewMemoryStore()
	cfg := anchor.Config{
		BatchSize:     16,
		BatchInterval: 20 * time.Millisecond,
		OracleTimeout: time.Second,
		RetryBackoff:  time.Millisecond,
		OracleRetries: 1,
	}
	engine, err := anchor.NewEngine(ctx, cfg, store, &flakyOracle{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(runCtx)
	}()

	if err := engine.Submit(ctx, testRecord("log_a")); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for engine.Pending() != 0 {
		select {
		case <-deadline:
			t.Fatal("interval flush did not happen")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if v, err := engine.VerifyByID(ctx, "log_a"); err != nil || !v.Verified {
		t.Fatalf("record not anchored by the scheduler: %v", err)
	}
}
