package util

import "github.com/google/uuid"

// NewID returns a random identifier for workflow runs. Lives in internal to
// avoid committing to public API stability prematurely.
func NewID() string { return uuid.NewString() }
