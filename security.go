//go:build !openbsd
// +build !openbsd

package monarch

// Pledge is only supported on OpenBSD.
func Pledge() error { return nil }

// Unveil is only supported on OpenBSD.
func Unveil(paths []UnveilPath) error { return nil }
