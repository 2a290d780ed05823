package models

import "time"

// Stamp kinds.
const (
	StampApply    = "apply"
	StampRollback = "rollback"
)

// Stamp is the audit record of one committed or rolled back transaction,
// keyed by the transaction id.
type Stamp struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Elements  []string  `json:"elements,omitempty"`
	Reverts   string    `json:"reverts,omitempty"`
}
