// Package domain holds identifier primitives shared across modules.
//
// IDs are distinct types over uuid.UUID so a TenantID can never be passed
// where an AssessmentID is expected. Parse helpers validate at the boundary;
// everything past the handler layer works with typed values.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantID identifies a tenant organization.
type TenantID uuid.UUID

// UserID identifies an acting user (human or service account).
type UserID uuid.UUID

// ConfigID identifies a tenant's compliance configuration row.
type ConfigID uuid.UUID

// AssessmentID identifies a compliance assessment run.
type AssessmentID uuid.UUID

// FindingID identifies a single control finding within an assessment.
type FindingID uuid.UUID

// AuditID identifies an entry in the configuration audit trail.
type AuditID uuid.UUID

// FrameworkID names a regulatory framework in the control catalog
// (e.g. "iso27001", "gdpr"). Catalog-scoped, not a UUID.
type FrameworkID string

// ControlID names an individual control within a framework (e.g. "A.8.2").
type ControlID string

func (id TenantID) String() string     { return uuid.UUID(id).String() }
func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id ConfigID) String() string     { return uuid.UUID(id).String() }
func (id AssessmentID) String() string { return uuid.UUID(id).String() }
func (id FindingID) String() string    { return uuid.UUID(id).String() }
func (id AuditID) String() string      { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ConfigID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AssessmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id FindingID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id FrameworkID) String() string { return string(id) }
func (id ControlID) String() string   { return string(id) }

// NewTenantID returns a fresh random tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewUserID returns a fresh random user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewConfigID returns a fresh random config ID.
func NewConfigID() ConfigID { return ConfigID(uuid.New()) }

// NewAssessmentID returns a fresh random assessment ID.
func NewAssessmentID() AssessmentID { return AssessmentID(uuid.New()) }

// NewFindingID returns a fresh random finding ID.
func NewFindingID() FindingID { return FindingID(uuid.New()) }

// NewAuditID returns a fresh random audit entry ID.
func NewAuditID() AuditID { return AuditID(uuid.New()) }

// ParseTenantID validates and converts a string into a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, fmt.Errorf("invalid tenant id %q: %w", s, err)
	}
	return TenantID(u), nil
}

// ParseUserID validates and converts a string into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return UserID(u), nil
}

// ParseAssessmentID validates and converts a string into an AssessmentID.
func ParseAssessmentID(s string) (AssessmentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return AssessmentID{}, fmt.Errorf("invalid assessment id %q: %w", s, err)
	}
	return AssessmentID(u), nil
}

// ParseFindingID validates and converts a string into a FindingID.
func ParseFindingID(s string) (FindingID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return FindingID{}, fmt.Errorf("invalid finding id %q: %w", s, err)
	}
	return FindingID(u), nil
}
