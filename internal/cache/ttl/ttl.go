// Package ttl computes effective cache expiry for fetched feeds.
package ttl

import "time"

// Effective returns the time-to-live for a feed fetched at lastUpdatedEpoch
// (seconds) with the given declared TTL, clamped to a minimum floor.
//
// A feed is never considered fresher than its declared TTL, and never expires
// faster than the floor. The floor keeps feeds sharing a refresh cadence from
// all expiring at once and re-fetching in a herd.
func Effective(now time.Time, lastUpdatedEpoch, declaredSeconds, minimumSeconds int64) time.Duration {
	elapsed := now.Unix() - lastUpdatedEpoch
	remaining := declaredSeconds - elapsed
	if remaining <= minimumSeconds {
		return time.Duration(minimumSeconds) * time.Second
	}
	return time.Duration(remaining) * time.Second
}
