package job

import (
	"errors"
	"strings"
)

// StackTracer is implemented by errors that carry a goroutine stack,
// such as recovered panics.
type StackTracer interface {
	StackTrace() string
}

// Trace renders err for a record's Trace field: the error message, one
// "caused by:" line per wrapped cause, and the stack of the first cause
// that carries one.
func Trace(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(err.Error())

	var stack string
	var st StackTracer
	if errors.As(err, &st) {
		stack = st.StackTrace()
	}
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		b.WriteString("\ncaused by: ")
		b.WriteString(cur.Error())
	}

	// Joined errors do not unwrap through errors.Unwrap.
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			b.WriteString("\ncaused by: ")
			b.WriteString(e.Error())
		}
	}

	if stack != "" {
		b.WriteString("\n\n")
		b.WriteString(stack)
	}
	return b.String()
}
