// Package engine executes commands against event-sourced aggregates.
//
// A Repository serializes commands per aggregate id, rebuilds state from the
// journal (or a bounded cache), runs the pure decider, appends the decided
// events under compare-and-append, and hands committed events to a publisher
// before the aggregate lock is released.
package engine
