package anchor

import (
	"bytes"
	"encoding/binary"
	"time"
	"unicode/utf8"
)

// Action is the enumerated event tag on a log record.
type Action string

// Recognized audit actions for the payments platform.
const (
	ActionPaymentCreated  Action = "payment.created"
	ActionPaymentSettled  Action = "payment.settled"
	ActionPaymentRefunded Action = "payment.refunded"
	ActionAccountUpdated  Action = "account.updated"
	ActionAccessGranted   Action = "access.granted"
	ActionAccessRevoked   Action = "access.revoked"
)

// Valid reports whether a belongs to the recognized action set.
func (a Action) Valid() bool {
	switch a {
	case ActionPaymentCreated, ActionPaymentSettled, ActionPaymentRefunded,
		ActionAccountUpdated, ActionAccessGranted, ActionAccessRevoked:
		return true
	}
	return false
}

// MetaKV is one metadata pair. Metadata is a slice rather than a map so
// that insertion order survives serialization and two logically identical
// records canonicalize to the same bytes.
type MetaKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// LogRecord is the unit being anchored. No field may change after the
// record has been hashed.
type LogRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	ActorID     string    `json:"actor_id"`
	ActorType   string    `json:"actor_type"`
	TargetType  string    `json:"target_type"`
	TargetID    string    `json:"target_id"`
	Description string    `json:"description,omitempty"`
	Metadata    []MetaKV  `json:"metadata,omitempty"`

	// PrevHash is set by the linker; callers may pre-set it to replay a
	// historical chain position (bootstrap only).
	PrevHash *Hash256 `json:"prev_hash,omitempty"`
}

// Validate checks that the record can be canonically encoded.
func (r *LogRecord) Validate() error {
	if r.ID == "" {
		return &EncodingError{Field: "id", Reason: "must not be empty"}
	}
	if r.Timestamp.IsZero() {
		return &EncodingError{Field: "timestamp", Reason: "must be set"}
	}
	if !r.Action.Valid() {
		return &EncodingError{Field: "action", Reason: "unrecognized action " + string(r.Action)}
	}
	if r.ActorID == "" {
		return &EncodingError{Field: "actor_id", Reason: "must not be empty"}
	}
	for _, f := range []struct{ name, val string }{
		{"id", r.ID}, {"actor_id", r.ActorID}, {"actor_type", r.ActorType},
		{"target_type", r.TargetType}, {"target_id", r.TargetID},
		{"description", r.Description},
	} {
		if !utf8.ValidString(f.val) {
			return &EncodingError{Field: f.name, Reason: "not valid UTF-8"}
		}
	}
	for _, kv := range r.Metadata {
		if kv.Key == "" {
			return &EncodingError{Field: "metadata", Reason: "empty key"}
		}
		if !utf8.ValidString(kv.Key) || !utf8.ValidString(kv.Value) {
			return &EncodingError{Field: "metadata", Reason: "not valid UTF-8"}
		}
	}
	return nil
}

// canonVersion tags the canonical encoding so the format can evolve
// without silently changing old hashes.
const canonVersion = byte(0x01)

// CanonicalBytes returns the deterministic byte encoding of the record.
// Every field is length-prefixed (uvarint) so no delimiter can be forged
// by field content, and timestamps are encoded as UTC RFC3339Nano.
func (r *LogRecord) CanonicalBytes() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(canonVersion)
	writeField(&buf, r.ID)
	writeField(&buf, r.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(&buf, string(r.Action))
	writeField(&buf, r.ActorID)
	writeField(&buf, r.ActorType)
	writeField(&buf, r.TargetType)
	writeField(&buf, r.TargetID)
	writeField(&buf, r.Description)

	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(r.Metadata)))])
	for _, kv := range r.Metadata {
		writeField(&buf, kv.Key)
		writeField(&buf, kv.Value)
	}
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, s string) {
	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	buf.WriteString(s)
}

// HashRecord computes the linked hash of a record: the digest of its
// canonical bytes followed by the previous chain hash. Every record hash
// therefore depends transitively on the content of all prior records.
func HashRecord(r *LogRecord, prev Hash256) (Hash256, error) {
	canon, err := r.CanonicalBytes()
	if err != nil {
		return Hash256{}, err
	}
	return HashBytes(append(canon, prev[:]...)), nil
}
