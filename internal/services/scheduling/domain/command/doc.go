// Package command defines the decision contract shared by the scheduling
// aggregates.
//
// Deciders are pure: given state, a command and a clock they return a
// Decision holding either the events to append or the reasons the command was
// declined. Commands themselves are never persisted.
package command
