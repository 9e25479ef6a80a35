package capture

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
)

// FatalSupervisionError reports that a supervised goroutine terminated
// while it was still supposed to run. It cannot be recovered locally.
type FatalSupervisionError struct {
	Name  string
	Cause error
	Stack string
}

func (e *FatalSupervisionError) Error() string {
	return fmt.Sprintf("%s terminated unexpectedly: %v", e.Name, e.Cause)
}

func (e *FatalSupervisionError) Unwrap() error {
	return e.Cause
}

// errStoppedEarly is the cause used when a run function returns nil before
// its context is done.
var errStoppedEarly = errors.New("returned before shutdown was requested")

// Supervise runs fn in its own goroutine and waits for it. It returns nil
// when fn exits after ctx is done. A panic, an error, or an early return
// is reported as *FatalSupervisionError and passed to escalate, if set,
// before Supervise returns it.
func Supervise(ctx context.Context, name string, fn func(ctx context.Context) error, escalate func(error)) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &FatalSupervisionError{
					Name:  name,
					Cause: errors.Errorf("panic: %v", r),
					Stack: string(debug.Stack()),
				}
			}
		}()
		done <- fn(ctx)
	}()

	err := <-done

	var fatal *FatalSupervisionError
	switch {
	case errors.As(err, &fatal):
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		util.GetLogger().Info("Supervised goroutine exited", "name", name)
		return nil
	case err != nil:
		fatal = &FatalSupervisionError{Name: name, Cause: err}
	case ctx.Err() == nil:
		fatal = &FatalSupervisionError{Name: name, Cause: errStoppedEarly}
	default:
		util.GetLogger().Info("Supervised goroutine exited", "name", name)
		return nil
	}

	util.GetLogger().Error("Supervised goroutine died", "name", name, "error", fatal.Cause, "stack", fatal.Stack)
	if escalate != nil {
		escalate(fatal)
	}
	return fatal
}
