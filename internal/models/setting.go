package models

import (
	"strings"
	"time"
)

// SettingSimulationMode toggles simulated meeting provisioning.
const SettingSimulationMode = "simulation_mode"

// Setting is a persisted key/value switch.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Bool interprets the value as a boolean flag.
func (s *Setting) Bool() bool {
	if s == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(s.Value)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
