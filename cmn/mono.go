package cmn

import "time"

// Now returns a monotonic timestamp suitable for the timestamp-keyed
// structures in histogram and overload: time.Now() carries a monotonic
// reading on every supported platform as long as callers don't round-trip
// it through wall-clock-only serialization (spec.md section 5). Logging
// should format the same value; it carries both readings until formatted.
func Now() time.Time {
	return time.Now()
}
