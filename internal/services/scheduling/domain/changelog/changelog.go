// Package changelog records the human-readable audit trail kept inside
// aggregate state.
package changelog

import "time"

// Entry is one accepted transition of an aggregate.
type Entry struct {
	Action      string
	PerformedBy string
	Details     string
	Timestamp   time.Time
}

// Append returns a new slice with entry added; log itself is never modified,
// so states sharing a backing array stay independent.
func Append(log []Entry, entry Entry) []Entry {
	out := make([]Entry, len(log), len(log)+1)
	copy(out, log)
	return append(out, entry)
}

// Copy returns an independent copy of log.
func Copy(log []Entry) []Entry {
	if log == nil {
		return nil
	}
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}
