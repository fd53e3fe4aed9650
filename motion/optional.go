package motion

import "fmt"

// Optional carries an observed value together with whether it has ever been
// reported. Numeric device fields start out unknown rather than zero: a
// blind that never reported its position is not at position 0.
type Optional[T any] struct {
	value T
	known bool
}

// Known wraps a reported value.
func Known[T any](value T) Optional[T] {
	return Optional[T]{value: value, known: true}
}

// Unknown returns the not-yet-reported state.
func Unknown[T any]() Optional[T] {
	return Optional[T]{}
}

// IsKnown reports whether the value has been observed at least once.
func (o Optional[T]) IsKnown() bool {
	return o.known
}

// Value returns the observed value and whether one exists.
func (o Optional[T]) Value() (T, bool) {
	return o.value, o.known
}

// Or returns the observed value, or fallback when none exists.
func (o Optional[T]) Or(fallback T) T {
	if !o.known {
		return fallback
	}
	return o.value
}

// String renders the value, or "unknown" before the first report.
func (o Optional[T]) String() string {
	if !o.known {
		return "unknown"
	}
	return fmt.Sprintf("%v", o.value)
}
