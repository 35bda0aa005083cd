package escrow

import (
	"errors"
	"fmt"

	"github.com/raghavao7/lossflip/internal/metrics"
)

// Kind classifies a rejected operation so callers can render the correct
// remediation: a wrong-actor rejection is not the same as a wrong-state one.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindForbidden
	KindConflict // wrong state, insufficient stock
	KindNotFound
)

// Error is a rejected escrow operation. No state is mutated when one is
// returned.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// KindOf extracts the kind from err, defaulting to KindInternal for
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validationf(format string, args ...any) *Error {
	metrics.OrderRejectionsTotal.WithLabelValues("validation").Inc()
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) *Error {
	metrics.OrderRejectionsTotal.WithLabelValues("forbidden").Inc()
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) *Error {
	metrics.OrderRejectionsTotal.WithLabelValues("conflict").Inc()
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func notFound(what string) *Error {
	metrics.OrderRejectionsTotal.WithLabelValues("not_found").Inc()
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}
