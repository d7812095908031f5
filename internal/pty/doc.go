// Package pty runs interpreter snippets on pseudo-terminals and keeps the
// ones that are still running after a short grace period as interactive
// sessions, addressable by an opaque identifier until the caller closes
// them.
//
// A session is never removed implicitly. Once Drain reports one of the
// Marker* chunks the process is gone, but the caller still owns the
// session and must Close it to release the PTY and the pump goroutine.
package pty
