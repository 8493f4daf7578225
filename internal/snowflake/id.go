// Package snowflake provides time-ordered unique IDs for local records.
package snowflake

import (
	"math/rand"
	"time"
)

// ID is a 64 bit identifier whose high bits encode creation time.
type ID uint64

// Now returns a new ID for the current moment.
func Now() ID {
	return TimeToID(time.Now())
}

// TimeToID converts a time.Time to an ID.
func TimeToID(ts time.Time) ID {
	// 48 bits for time in milliseconds.
	// 16 bits for random.
	return ID(uint64(ts.UnixNano()/int64(time.Millisecond))<<16 | uint64(rand.Intn(1<<16)))
}

// ToTime converts an ID back to the moment it was minted.
func (id ID) ToTime() time.Time {
	return time.Unix(0, int64(id>>16)*1e6)
}
