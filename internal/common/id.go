package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique report run identifier.
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewFindingID generates a unique finding identifier.
// Format: fnd_<uuid>
func NewFindingID() string {
	return "fnd_" + uuid.New().String()
}
