package models

import "time"

// Firing marks that a rule already fired for a session.
type Firing struct {
	RuleID    string    `db:"rule_id" json:"rule_id"`
	SessionID string    `db:"session_id" json:"session_id"`
	FiredAt   time.Time `db:"fired_at" json:"fired_at"`
}
