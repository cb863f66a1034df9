package obs

import "fmt"

// Kind is the error taxonomy of §7: a small closed set of recovery
// strategies, not a type hierarchy. Producer-observable kinds are counted,
// never returned synchronously to the hot path.
type Kind int

const (
	KindPoolExhausted Kind = iota
	KindRingFull
	KindEncoderLag
	KindRegistryCapacity
	KindArenaMismatch
	KindStartupTimeout
	KindWriteError
	KindDrainStall
)

func (k Kind) String() string {
	switch k {
	case KindPoolExhausted:
		return "PoolExhausted"
	case KindRingFull:
		return "RingFull"
	case KindEncoderLag:
		return "EncoderLag"
	case KindRegistryCapacity:
		return "RegistryCapacity"
	case KindArenaMismatch:
		return "ArenaMismatch"
	case KindStartupTimeout:
		return "StartupTimeout"
	case KindWriteError:
		return "WriteError"
	case KindDrainStall:
		return "DrainStall"
	default:
		return "Unknown"
	}
}

// Error is a kinded error: the Kind drives counting and exit-code mapping,
// the message is for logs only.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// KindOf extracts the Kind from an error produced by New/Wrap, defaulting
// to WriteError for unrecognized errors (the safest counted bucket).
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return KindWriteError
	}
	if ke, ok := err.(*Error); ok {
		e = ke
		return e.Kind
	}
	return KindWriteError
}
