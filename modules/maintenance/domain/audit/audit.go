package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

type Operation string

const (
	OperationCreate        Operation = "create"
	OperationTransition    Operation = "transition"
	OperationReprioritize  Operation = "reprioritize"
	OperationUpdateDetails Operation = "update_details"
)

var ErrBrokenSequence = serrors.NewError("MAINT_AUDIT_SEQUENCE_BROKEN", "audit trail is not gap-free", "Maintenance.Errors.AuditSequence")

// Record documents one accepted mutation. Records are append-only and keyed
// by (RequestID, Version).
type Record struct {
	ID          uuid.UUID       `json:"id"`
	RequestID   uuid.UUID       `json:"request_id"`
	Version     int64           `json:"version"`
	Operation   Operation       `json:"operation"`
	OldSnapshot json.RawMessage `json:"old_snapshot"`
	NewSnapshot json.RawMessage `json:"new_snapshot"`
	// Diff is an RFC 6902 patch from OldSnapshot (or {} on create) to NewSnapshot.
	Diff       json.RawMessage `json:"diff"`
	ActorID    string          `json:"actor_id"`
	ActorRole  string          `json:"actor_role"`
	Transition string          `json:"transition,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Entry struct {
	RequestID  uuid.UUID
	Version    int64
	Operation  Operation
	Old        any
	New        any
	ActorID    string
	ActorRole  string
	Transition string
	At         time.Time
}

// NewRecord snapshots e.Old and e.New as JSON and stores the patch between them.
func NewRecord(e Entry) (*Record, error) {
	newRaw, err := json.Marshal(e.New)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal new snapshot: %w", err)
	}

	oldRaw := json.RawMessage("null")
	base := []byte("{}")
	if e.Old != nil {
		b, err := json.Marshal(e.Old)
		if err != nil {
			return nil, fmt.Errorf("audit: marshal old snapshot: %w", err)
		}
		oldRaw = b
		base = b
	}

	patch, err := jsondiff.CompareJSON(base, newRaw)
	if err != nil {
		return nil, fmt.Errorf("audit: diff snapshots: %w", err)
	}
	diff, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal diff: %w", err)
	}
	if patch == nil {
		diff = json.RawMessage("[]")
	}

	return &Record{
		ID:          uuid.New(),
		RequestID:   e.RequestID,
		Version:     e.Version,
		Operation:   e.Operation,
		OldSnapshot: oldRaw,
		NewSnapshot: newRaw,
		Diff:        diff,
		ActorID:     e.ActorID,
		ActorRole:   e.ActorRole,
		Transition:  e.Transition,
		CreatedAt:   e.At.UTC(),
	}, nil
}

type Repository interface {
	// Append inserts r. A second record for the same (request, version)
	// must fail; callers surface that as a stale-version conflict.
	Append(ctx context.Context, r *Record) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Record, error)
}
