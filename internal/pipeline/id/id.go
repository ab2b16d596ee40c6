// Package id provides unique identifier generation for pipeline runs.
package id

import "github.com/google/uuid"

// Generate creates a new unique run ID.
// Format: run-<uuidv7>, so IDs sort by creation time.
// Example: run-01920d8a-6c52-7b4e-8f1e-3c2b1a0d9e8f
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fall back to a random UUID if the clock source fails
		return "run-" + uuid.NewString()
	}
	return "run-" + u.String()
}
