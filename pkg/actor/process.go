package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
)

// Returned by a Behavior to stop its process without error.
var ErrStop = errors.New("process stop requested")

// Error reported when a behavior panics.
type PanicError struct {
	// Recovered value
	Value any
	// Stack trace captured at recovery time
	Stack []byte
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("process panicked: %v", err.Value)
}

// Handles one envelope. A non-nil error stops the process.
type Behavior func(ctx context.Context, env Envelope) error

// A goroutine consuming one mailbox, one envelope at a time.
type Process struct {
	id      string
	mailbox *Mailbox
	done    chan struct{}
	err     error
}

// # Description
//
// Spawn a process which feeds the envelopes of mailbox to behavior, in FIFO order, until:
//   - behavior returns an error (ErrStop is a normal exit)
//   - behavior panics (reported as *PanicError)
//   - a TagExit envelope is received
//   - the mailbox is closed and drained
//   - ctx is done
//
// # Inputs
//
//   - ctx: Context bound to the process lifetime.
//   - mailbox: Mailbox consumed by the process. It is closed when the process exits.
//   - behavior: Envelope handler.
//   - onExit: Optional hook called once with the exit error (nil on normal exit).
//
// # Returns
//
// The running process.
func Spawn(ctx context.Context, mailbox *Mailbox, behavior Behavior, onExit func(err error)) *Process {
	proc := &Process{
		id:      uuid.NewString(),
		mailbox: mailbox,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(proc.done)
		proc.err = proc.run(ctx, behavior)
		mailbox.Close()
		if onExit != nil {
			onExit(proc.err)
		}
	}()
	return proc
}

func (proc *Process) run(ctx context.Context, behavior Behavior) error {
	for {
		env, err := proc.mailbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrMailboxClosed) {
				return nil
			}
			return err
		}
		if env.Tag == TagExit {
			return nil
		}
		if err := proc.handle(ctx, behavior, env); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// Call behavior, turning a panic into a *PanicError.
func (proc *Process) handle(ctx context.Context, behavior Behavior, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return behavior(ctx, env)
}

// ID returns the process unique identifier.
func (proc *Process) ID() string {
	return proc.id
}

// Mailbox returns the mailbox consumed by the process.
func (proc *Process) Mailbox() *Mailbox {
	return proc.mailbox
}

// Done is closed once the process has exited and its exit hook has returned.
func (proc *Process) Done() <-chan struct{} {
	return proc.done
}

// Err returns the exit error. Only meaningful once Done is closed.
func (proc *Process) Err() error {
	<-proc.done
	return proc.err
}

// Stop asks the process to exit once the envelopes already queued have been handled.
func (proc *Process) Stop() {
	_ = proc.mailbox.Post(Envelope{Tag: TagExit})
}
