package certificate

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type IssuanceStatus string

const (
	IssuanceStatusIssued IssuanceStatus = "issued"
	// IssuanceStatusOrphaned marks a serial that was consumed without a
	// persisted document and needs manual reconciliation.
	IssuanceStatusOrphaned IssuanceStatus = "orphaned"
	IssuanceStatusRejected IssuanceStatus = "rejected"
)

// IssuanceEvent is the audit record of one issuance attempt.
type IssuanceEvent struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Serial       string         `gorm:"size:128;index" json:"serial,omitempty"`
	UserID       string         `gorm:"size:255;index" json:"user_id"`
	OwnerSurname string         `gorm:"size:255" json:"owner_surname,omitempty"`
	Status       IssuanceStatus `gorm:"size:32;not null;index" json:"status"`
	ErrorKind    string         `gorm:"size:64" json:"error_kind,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	OutputPath   string         `gorm:"type:text" json:"output_path,omitempty"`
	IssueDate    string         `gorm:"size:10" json:"issue_date"`
	Extras       datatypes.JSON `json:"extras,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
}

func (IssuanceEvent) TableName() string { return "issuance_events" }
