package atci

import "fmt"

// Code is the numeric, stable, host-facing status the dispatcher
// renders as "+ERR=<n>". Packages downstream of atci (cmdset) extend
// this same type with the rest of the error taxonomy rather than
// defining a parallel one, so one numeric space covers both parse-time
// and handler-level failures.
type Code int

func (c Code) Error() string {
	return fmt.Sprintf("+ERR=%d", int(c))
}

// Parse-time codes, owned by atci itself (spec.md §4.6 taxonomy
// entries -1..-3).
const (
	ErrUnknownCommand Code = -1
	ErrWrongArity     Code = -2
	ErrInvalidValue   Code = -3
)

// Deferred is a sentinel a handler returns to suppress the automatic
// +OK/+ERR reply entirely: it has armed an upload (+UTX and friends)
// and the upload's own callback will write the real reply once the
// payload has actually been received and submitted, matching spec.md
// §8 scenario 4's "handler emits +OK" only after the MAC accepts the
// uplink, not at the moment the command line itself was parsed.
const Deferred Code = 1
