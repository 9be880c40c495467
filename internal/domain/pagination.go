package domain

// DefaultMaxResults is the default result limit when none is specified.
const DefaultMaxResults = 100

// MaxMaxResults is the maximum allowed result limit.
const MaxMaxResults = 1000

// ClampLimit returns the effective result limit, clamped to [1, MaxMaxResults].
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultMaxResults
	}
	if n > MaxMaxResults {
		return MaxMaxResults
	}
	return n
}
