package dispatcher

import (
	"errors"
	"fmt"
)

var (
	ErrDeliveryExhausted = errors.New("delivery exhausted")
	ErrUnavailable       = errors.New("provider unavailable")
	ErrNoEndpoints       = errors.New("no provider endpoint configured")
)

// ExhaustedError is returned when every combination of the plan failed.
type ExhaustedError struct {
	LastErr  string
	LastURL  string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("delivery exhausted after %d attempts, last url %s: %s", e.Attempts, e.LastURL, e.LastErr)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrDeliveryExhausted }
