// Package projection folds committed scheduling events into the read model.
//
// Application is idempotent per aggregate: a watermark records the highest
// applied sequence, redelivered events are skipped, and gaps are filled from
// the event log before the triggering event is applied. The read model can
// be wiped and rebuilt from the log at any time.
package projection
