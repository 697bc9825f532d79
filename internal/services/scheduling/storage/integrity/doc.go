// Package integrity signs event chain hashes so a stored stream can be
// checked for tampering.
//
// Each aggregate stream gets its own HMAC key, derived with HKDF from a root
// key in the keyring. Rotating the active key only affects new appends; old
// events keep verifying against the key id they were signed with.
package integrity
