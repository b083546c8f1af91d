// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end
// up in database keys and log lines. Using these validators prevents key
// injection and unbounded-identifier abuse.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// serviceIDPattern matches valid service identifiers.
// Allows: letters, digits, dots, underscores, hyphens.
// Max length: 64 characters.
var serviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateServiceID validates a service identifier.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters A-Z, a-z
//   - Digits 0-9
//   - Dots (.), underscores (_), hyphens (-)
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateServiceID(id); err != nil {
//	    return nil, fmt.Errorf("invalid service id: %w", err)
//	}
//	// Safe to use in a store key
func ValidateServiceID(serviceID string) error {
	if serviceID == "" {
		return fmt.Errorf("service_id cannot be empty")
	}

	if !serviceIDPattern.MatchString(serviceID) {
		return fmt.Errorf("invalid service_id format: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", serviceID)
	}

	return nil
}

// SanitizeServiceID normalizes and validates a service identifier.
// Returns the trimmed identifier if valid, or an error if invalid.
func SanitizeServiceID(serviceID string) (string, error) {
	normalized := strings.TrimSpace(serviceID)
	if err := ValidateServiceID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
