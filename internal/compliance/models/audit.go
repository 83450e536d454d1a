package models

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/sha3"

	id "github.com/adverant/nexus-compliance/pkg/domain"
)

// AuditAction is the kind of state change an audit entry records.
type AuditAction string

const (
	AuditActionCreate        AuditAction = "CREATE"
	AuditActionToggleMaster  AuditAction = "TOGGLE_MASTER"
	AuditActionToggleModule  AuditAction = "TOGGLE_MODULE"
	AuditActionToggleFeature AuditAction = "TOGGLE_FEATURE"
)

// Provenance records where a change came from. Supplied by the calling
// layer; never derived inside the core.
type Provenance struct {
	IPAddress     string `json:"ip_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	DeviceSummary string `json:"device_summary,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// ConfigAudit is one append-only audit trail entry. Rows are never updated
// or deleted; every committed config mutation produces exactly one entry in
// the same transaction.
//
// PrevHash/EntryHash form a per-tenant hash chain: EntryHash is SHA3-256
// over the previous entry's hash and this entry's canonical payload, so any
// retroactive edit or deletion breaks verification of every later entry.
type ConfigAudit struct {
	ID       id.AuditID  `json:"id"`
	ConfigID id.ConfigID `json:"config_id"`
	TenantID id.TenantID `json:"tenant_id"`
	Action   AuditAction `json:"action"`
	ActorID  id.UserID   `json:"actor_id"`
	Reason   string      `json:"reason"`

	// Full state snapshots for forensic replay. PrevState is nil only for
	// the CREATE entry.
	PrevState *Snapshot `json:"prev_state,omitempty"`
	NewState  Snapshot  `json:"new_state"`

	// Delta fields for fast queries; redundant with the snapshots.
	Module   *ModuleName `json:"module,omitempty"`
	Feature  *string     `json:"feature,omitempty"`
	OldValue *bool       `json:"old_value,omitempty"`
	NewValue *bool       `json:"new_value,omitempty"`

	Provenance Provenance `json:"provenance"`

	PrevHash  string    `json:"prev_hash"`
	EntryHash string    `json:"entry_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// hashPayload is the canonical byte layout hashed into EntryHash. Field
// order matters; changing it invalidates existing chains.
type hashPayload struct {
	TenantID  string      `json:"tenant_id"`
	Action    AuditAction `json:"action"`
	ActorID   string      `json:"actor_id"`
	Reason    string      `json:"reason"`
	PrevState *Snapshot   `json:"prev_state,omitempty"`
	NewState  Snapshot    `json:"new_state"`
	CreatedAt string      `json:"created_at"`
}

// ComputeEntryHash derives the chain hash for this entry from prevHash and
// the entry's canonical payload, and stores both on the entry.
func (a *ConfigAudit) ComputeEntryHash(prevHash string) error {
	payload, err := json.Marshal(hashPayload{
		TenantID:  a.TenantID.String(),
		Action:    a.Action,
		ActorID:   a.ActorID.String(),
		Reason:    a.Reason,
		PrevState: a.PrevState,
		NewState:  a.NewState,
		// timestamptz keeps microseconds; hashing anything finer would not
		// survive a storage round trip.
		CreatedAt: a.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	h := sha3.New256()
	h.Write([]byte(prevHash))
	h.Write(payload)
	a.PrevHash = prevHash
	a.EntryHash = hex.EncodeToString(h.Sum(nil))
	return nil
}

// VerifyChain checks a tenant's audit trail ordered oldest-first: each
// entry's hash must recompute from its payload and link to its predecessor.
// Returns the index of the first broken entry, or -1 if the chain holds.
func VerifyChain(entries []ConfigAudit) int {
	prevHash := ""
	for i := range entries {
		check := entries[i]
		if check.PrevHash != prevHash {
			return i
		}
		want := check.EntryHash
		if err := check.ComputeEntryHash(prevHash); err != nil || check.EntryHash != want {
			return i
		}
		prevHash = want
	}
	return -1
}

// AuditQuery filters and paginates the audit trail. Zero Limit means the
// store default; results are always newest-first.
type AuditQuery struct {
	Limit  int
	Offset int
	Action *AuditAction
	Module *ModuleName
}
