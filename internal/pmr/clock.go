package pmr

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the timestamps written to the sync ledger and the
// operation log.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names a single run of the tool so its log lines can be
// grouped together.
type IDGenerator interface {
	New() string
}

// UUIDGenerator issues random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
