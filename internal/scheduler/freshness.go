package scheduler

import "time"

// ShouldProcess is the freshness gate: it decides whether a resource is due
// for (re-)processing. A nil lastProcessedAt means the resource was never
// processed and is always due. Pure; callers supply now.
func ShouldProcess(lastProcessedAt *time.Time, ttl time.Duration, now time.Time) bool {
	if lastProcessedAt == nil {
		return true
	}
	return now.Sub(*lastProcessedAt) >= ttl
}
