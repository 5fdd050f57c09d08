package logging

import (
	"github.com/google/uuid"
)

// NewOperationID returns a fresh id for tagging the log entries of one
// backup, restore or verify run.
func NewOperationID() string {
	return uuid.NewString()
}
