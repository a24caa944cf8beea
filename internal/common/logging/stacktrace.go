package logging

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// StackField is the log field holding the stack trace of a logged error.
const StackField = "stack"

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorWithStack returns an entry of the standard logger carrying err and, when err or anything it wraps
// was created by pkg/errors, the stack trace recorded there.
func ErrorWithStack(err error) *log.Entry {
	entry := log.WithError(err)
	if stack := stackOf(err); stack != nil {
		entry = entry.WithField(StackField, fmt.Sprintf("%+v", stack))
	}
	return entry
}

func stackOf(err error) errors.StackTrace {
	var tracer stackTracer
	if errors.As(err, &tracer) {
		return tracer.StackTrace()
	}
	return nil
}
