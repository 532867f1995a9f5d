package audit

import (
	"github.com/ppiankov/trustgate/internal/model"
)

// RecordKind discriminates the two payloads a ledger record can carry.
type RecordKind string

const (
	KindGateDecision    RecordKind = "gate_decision"
	KindTrustTransition RecordKind = "trust_transition"
)

// Record is one line in a tenant's hash-chained JSONL ledger.
// Exactly one of Decision or Transition is set, matching Kind.
// Records are created once and never mutated or deleted.
type Record struct {
	Seq        int64                  `json:"seq"`
	Timestamp  string                 `json:"ts"`
	TenantID   string                 `json:"tenant_id"`
	Kind       RecordKind             `json:"kind"`
	Decision   *model.GateDecision    `json:"decision,omitempty"`
	Transition *model.TrustTransition `json:"transition,omitempty"`
	PolicyHash string                 `json:"policy_hash,omitempty"`
	PrevHash   string                 `json:"prev_hash"`
}
