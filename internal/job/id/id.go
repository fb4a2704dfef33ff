// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique, time-ordered job ID.
// Format: job-<uuidv7>
// Example: job-01936b2e-3c4a-7d5e-8f60-1a2b3c4d5e6f
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		return "job-" + uuid.NewString()
	}
	return "job-" + u.String()
}
