// cmd/seed — submits a batch of realistic sample audit records to a
// running anchord, for development and demos.
//
// Running twice is safe: record IDs are derived from a fixed sequence, so
// the second run's submissions are rejected as duplicates and reported.
//
// Usage:
//
//	go run ./cmd/seed
//	ANCHORD_URL=http://localhost:8080 go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/paystream-io/auditanchor/pkg/client"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	server := os.Getenv("ANCHORD_URL")
	if server == "" {
		server = defaultServer
	}

	ctx := context.Background()
	c := client.New(server)

	if _, err := c.Chain(ctx); err != nil {
		return fmt.Errorf("anchord not reachable at %s: %w", server, err)
	}
	fmt.Printf("connected to anchord at %s\n", server)

	submitted, skipped := 0, 0
	for _, rec := range sampleRecords() {
		if err := c.Submit(ctx, rec); err != nil {
			skipped++
			fmt.Printf("  skip  %s (%v)\n", rec.ID, err)
			continue
		}
		submitted++
		fmt.Printf("  submit %s (%s)\n", rec.ID, rec.Action)
	}

	fmt.Printf("\nseed complete: %d submitted, %d skipped\n", submitted, skipped)
	if submitted > 0 {
		fmt.Println("records anchor on the next batch flush; check GET /api/v1/chain")
	}
	return nil
}

// sampleRecords builds a fixed payment-platform activity trace: a payment
// lifecycle, an account change, and an access grant/revoke pair.
func sampleRecords() []*client.Record {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	return []*client.Record{
		{
			ID:          "seed_pay_0001_created",
			Timestamp:   base,
			Action:      "payment.created",
			ActorID:     "usr_alice",
			ActorType:   "user",
			TargetType:  "payment",
			TargetID:    "pay_0001",
			Description: "invoice 2026-0042 payment initiated",
			Metadata: []client.MetaKV{
				{Key: "amount", Value: "125000"},
				{Key: "currency", Value: "EUR"},
				{Key: "method", Value: "sepa_credit"},
			},
		},
		{
			ID:          "seed_pay_0001_settled",
			Timestamp:   base.Add(37 * time.Minute),
			Action:      "payment.settled",
			ActorID:     "svc_settlement",
			ActorType:   "service",
			TargetType:  "payment",
			TargetID:    "pay_0001",
			Description: "settled via clearing run 2026-06-01-A",
			Metadata: []client.MetaKV{
				{Key: "clearing_run", Value: "2026-06-01-A"},
			},
		},
		{
			ID:          "seed_pay_0002_created",
			Timestamp:   base.Add(2 * time.Hour),
			Action:      "payment.created",
			ActorID:     "usr_bob",
			ActorType:   "user",
			TargetType:  "payment",
			TargetID:    "pay_0002",
			Metadata: []client.MetaKV{
				{Key: "amount", Value: "4990"},
				{Key: "currency", Value: "USD"},
			},
		},
		{
			ID:          "seed_pay_0002_refunded",
			Timestamp:   base.Add(26 * time.Hour),
			Action:      "payment.refunded",
			ActorID:     "usr_support_1",
			ActorType:   "user",
			TargetType:  "payment",
			TargetID:    "pay_0002",
			Description: "full refund, customer request",
			Metadata: []client.MetaKV{
				{Key: "amount", Value: "4990"},
				{Key: "reason", Value: "customer_request"},
			},
		},
		{
			ID:          "seed_acct_alice_iban",
			Timestamp:   base.Add(3 * time.Hour),
			Action:      "account.updated",
			ActorID:     "usr_alice",
			ActorType:   "user",
			TargetType:  "account",
			TargetID:    "acct_alice",
			Description: "payout IBAN changed",
			Metadata: []client.MetaKV{
				{Key: "field", Value: "payout_iban"},
			},
		},
		{
			ID:         "seed_access_grant_carol",
			Timestamp:  base.Add(4 * time.Hour),
			Action:     "access.granted",
			ActorID:    "usr_admin",
			ActorType:  "user",
			TargetType: "role",
			TargetID:   "role_treasury_read",
			Metadata: []client.MetaKV{
				{Key: "grantee", Value: "usr_carol"},
			},
		},
		{
			ID:         "seed_access_revoke_carol",
			Timestamp:  base.Add(50 * time.Hour),
			Action:     "access.revoked",
			ActorID:    "usr_admin",
			ActorType:  "user",
			TargetType: "role",
			TargetID:   "role_treasury_read",
			Metadata: []client.MetaKV{
				{Key: "grantee", Value: "usr_carol"},
				{Key: "reason", Value: "offboarding"},
			},
		},
	}
}
