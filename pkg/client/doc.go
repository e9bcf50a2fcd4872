// Package client is the Go SDK for the auditanchor HTTP API.
//
// It covers the full anchoring lifecycle: submitting audit log records,
// checking their anchors and inclusion proofs, and exporting offline
// proof bundles.
//
// # Submitting a record
//
// Records are accepted into a pending batch and anchored asynchronously;
// Submit returning nil means accepted, not yet anchored.
//
//	c := client.New("https://anchor.internal.example.com")
//	err := c.Submit(ctx, &client.Record{
//	    ID:        "log_01HV5K2V8Q",
//	    Timestamp: time.Now().UTC(),
//	    Action:    "payment.created",
//	    ActorID:   "usr_42",
//	    TargetID:  "pay_9001",
//	    Metadata: []client.MetaKV{
//	        {Key: "amount", Value: "1299"},
//	        {Key: "currency", Value: "EUR"},
//	    },
//	})
//
// Metadata order matters: it is part of the record's hashed identity,
// which is why it is a slice and not a map.
//
// # Verifying
//
// Verify checks the stored anchor for a log ID. A result with
// Verified=false is a tampering finding, not a transport error — inspect
// FailedCheck to see which integrity check failed:
//
//	res, err := c.Verify(ctx, "log_01HV5K2V8Q")
//	if err != nil { ... }           // unknown ID, network, server error
//	if !res.Verified {
//	    log.Printf("integrity failure: %s", res.FailedCheck)
//	}
//
// VerifyRecord additionally sends the record content so the service can
// recompute its hash, proving the content was not altered after
// anchoring. The record hash covers the previous record's hash too;
// leave Record.PrevHash empty to verify against the chain position
// persisted with the anchor, or set it (every verify response echoes
// PrevHash) to pin the expected position explicitly.
//
// # Proof bundles
//
// ExportProofs returns a proofbundle.Bundle that auditors can verify
// offline, without access to this service or its store:
//
//	bundle, err := c.ExportProofs(ctx, []string{"log_01HV5K2V8Q"})
//	if err := bundle.VerifyAll(); err != nil { ... }
package client
