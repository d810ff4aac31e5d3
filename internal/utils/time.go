package utils

import (
	"time"
)

// JST is the fixed UTC+9 offset every stored timestamp uses.
var JST = time.FixedZone("JST", 9*60*60)

// Now returns the current time in JST, truncated to microseconds so values
// survive a round trip through PostgreSQL unchanged.
func Now() time.Time {
	return time.Now().In(JST).Truncate(time.Microsecond)
}
