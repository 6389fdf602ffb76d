package device

import (
	"fmt"
	"strings"
)

// NotFoundError reports that no device matched the request. Requested is
// empty when no explicit identifier was given and zero devices are reachable.
type NotFoundError struct {
	Requested string
}

func (e *NotFoundError) Error() string {
	if e.Requested == "" {
		return "no devices connected"
	}
	return fmt.Sprintf("device not found: %s", e.Requested)
}

// AmbiguousError reports that a default resolution matched two or more
// devices. Candidates preserves enumeration order so the caller can retry
// with an explicit serial.
type AmbiguousError struct {
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("multiple devices connected (%s), specify a serial",
		strings.Join(e.Candidates, ", "))
}

// InvalidIDError reports a malformed device identifier.
type InvalidIDError struct {
	ID string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid device id: %q (must match [a-zA-Z0-9._:-]+)", e.ID)
}
