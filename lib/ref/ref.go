// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// validateIdentifier checks the shared syntax rules for Loom
// identifiers: a leading '@', a non-empty body, and no whitespace or
// control characters. kind names the identifier type in error messages.
func validateIdentifier(kind, raw string) error {
	if raw == "" {
		return fmt.Errorf("empty %s", kind)
	}
	if raw[0] != '@' {
		return fmt.Errorf("%s must start with '@': %q", kind, raw)
	}
	if len(raw) == 1 {
		return fmt.Errorf("%s has empty body: %q", kind, raw)
	}
	for i := 1; i < len(raw); i++ {
		c := raw[i]
		if c <= ' ' || c == 0x7f {
			return fmt.Errorf("%s contains whitespace or control character at offset %d: %q", kind, i, raw)
		}
	}
	return nil
}
