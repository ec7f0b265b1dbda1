// Package util provides common utility functions used across the fleetcmd
// application. This package is intentionally kept dependency-free (no imports
// from other internal/* packages) to serve as a shared foundation without
// introducing circular dependencies.
package util

import "strings"

// NormalizeHost strips all whitespace from a host string.
//
// Host values arrive from pasted spreadsheet cells and web forms, which
// routinely carry stray spaces ("10.0.0.1 " or "10 .0.0.1"). Connection pool
// keys are derived from the host, so two spellings of the same host must
// normalize to one key or the pool would hold duplicate sessions to the same
// target.
//
// Examples:
//
//	NormalizeHost("10.0.0.1")   → "10.0.0.1"
//	NormalizeHost(" 10.0.0.1 ") → "10.0.0.1"
//	NormalizeHost("10. 0.0.1")  → "10.0.0.1"
func NormalizeHost(host string) string {
	return strings.Join(strings.Fields(host), "")
}
