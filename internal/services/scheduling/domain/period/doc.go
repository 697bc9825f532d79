// Package period implements the exam session period aggregate: the
// lifecycle of the window in which professors submit scheduling preferences.
//
// A period is created once, then its submission window alternates between
// closed and open. Every transition is an event; State is rebuilt by folding
// them in order.
package period
