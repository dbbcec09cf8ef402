//go:build !linux

package server

// Non-Linux platforms keep the listener defaults.
func applySocketOptions(uintptr) error { return nil }
