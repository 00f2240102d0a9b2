// Package health provides health check implementations for external dependencies.
package health

import "context"

// Checker is implemented by every dependency health check.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Check runs all named checkers and returns the per-dependency errors.
// A nil map value means the dependency is healthy.
func Check(ctx context.Context, checkers map[string]Checker) map[string]error {
	results := make(map[string]error, len(checkers))
	for name, c := range checkers {
		results[name] = c.HealthCheck(ctx)
	}
	return results
}

// Healthy reports whether every result in a Check output is nil.
func Healthy(results map[string]error) bool {
	for _, err := range results {
		if err != nil {
			return false
		}
	}
	return true
}
