package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paystream-io/auditanchor/internal/anchor"
	"github.com/paystream-io/auditanchor/internal/api"
	"github.com/paystream-io/auditanchor/pkg/client"
)

var ctx = context.Background()

// setupService spins up the real service over a MemoryStore so the SDK is
// tested against actual handler behavior, not a hand-written stub.
func setupService(t *testing.T) (*client.Client, *anchor.Engine) {
	t.Helper()

	store := anchor.NewMemoryStore()
	engine, err := anchor.NewEngine(ctx, anchor.Config{
		BatchSize:     16,
		BatchInterval: time.Hour,
		OracleTimeout: time.Second,
		RetryBackoff:  time.Millisecond,
		OracleRetries: 1,
	}, store, anchor.NewSystemOracle(), zap.NewNop())
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	api.NewAnchorHandler(engine, zap.NewNop()).Register(router.Group("/api/v1"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return client.New(srv.URL), engine
}

func sampleRecord(id string) *client.Record {
	return &client.Record{
		ID:        id,
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Action:    "payment.created",
		ActorID:   "usr_42",
		ActorType: "user",
		TargetID:  "pay_9001",
		Metadata: []client.MetaKV{
			{Key: "amount", Value: "1299"},
			{Key: "currency", Value: "EUR"},
		},
	}
}

func TestClientLifecycle(t *testing.T) {
	c, engine := setupService(t)

	if err := c.Submit(ctx, sampleRecord("log_a")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Not anchored yet.
	if _, err := c.Verify(ctx, "log_a"); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("pre-anchor verify: expected ErrNotFound, got %v", err)
	}

	if err := engine.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	res, err := c.Verify(ctx, "log_a")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Verified {
		t.Errorf("expected verified anchor, got %+v", res)
	}
	if len(res.LogHash) != 64 || len(res.MerkleRoot) != 64 {
		t.Errorf("hashes must be 64-char hex: %+v", res)
	}
	if res.OracleHeight == 0 {
		t.Error("oracle height must be set")
	}
}

func TestClientSubmitRejection(t *testing.T) {
	c, _ := setupService(t)

	bad := sampleRecord("log_bad")
	bad.Action = "payment.imagined"
	if err := c.Submit(ctx, bad); err == nil {
		t.Error("invalid action must be rejected")
	}

	if err := c.Submit(ctx, sampleRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(ctx, sampleRecord("log_a")); err == nil {
		t.Error("duplicate submit must be rejected")
	}
}

func TestClientVerifyRecord(t *testing.T) {
	c, engine := setupService(t)

	rec := sampleRecord("log_a")
	if err := c.Submit(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	// The service hashed this record against the zero tip (first record);
	// the caller's copy carries no prev_hash, which means the same thing.
	res, err := c.VerifyRecord(ctx, rec)
	if err != nil {
		t.Fatalf("verify record: %v", err)
	}
	if !res.Verified {
		t.Errorf("unaltered record must verify, got %+v", res)
	}

	altered := *rec
	altered.Description = "adjusted after the fact"
	res, err = c.VerifyRecord(ctx, &altered)
	if err != nil {
		t.Fatalf("verify altered record: %v", err)
	}
	if res.Verified || res.FailedCheck != "hash_mismatch" {
		t.Errorf("altered record must fail the hash check, got %+v", res)
	}
}

func TestClientExportProofs(t *testing.T) {
	c, engine := setupService(t)

	for _, id := range []string{"log_a", "log_b"} {
		if err := c.Submit(ctx, sampleRecord(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	bundle, err := c.ExportProofs(ctx, []string{"log_a", "log_b"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(bundle.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(bundle.Entries))
	}
	if err := bundle.VerifyAll(); err != nil {
		t.Errorf("exported bundle must verify offline: %v", err)
	}

	if _, err := c.ExportProofs(ctx, []string{"log_missing"}); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClientChain(t *testing.T) {
	c, engine := setupService(t)

	info, err := c.Chain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Anchored != 0 || info.Pending != 0 {
		t.Errorf("empty chain overview: %+v", info)
	}

	if err := c.Submit(ctx, sampleRecord("log_a")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	info, err = c.Chain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Anchored != 1 {
		t.Errorf("anchored = %d, want 1", info.Anchored)
	}
	if info.LastHash == anchor.ZeroHash.String() {
		t.Error("tip must advance after anchoring")
	}
}

func TestClientTransportError(t *testing.T) {
	c := client.New("http://127.0.0.1:1", client.WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	if err := c.Submit(ctx, sampleRecord("log_a")); err == nil {
		t.Error("unreachable server must surface an error")
	}
}
