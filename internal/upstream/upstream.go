// Package upstream defines the contract for the long-running analysis call
// the broker coordinates. The broker treats an invocation as opaque: it
// consumes a progress stream and a completion that settles exactly once.
package upstream

import "context"

// Request carries the article content captured by the client on the first
// request for a key. Later polls for the same key never reach the invoker.
type Request struct {
	URL   string
	Title string
	Text  string
}

// Failure describes an invocation that finished without a usable result.
type Failure struct {
	Err error
	// Retriable is true for overload-class upstream signals (rate limits,
	// capacity exceeded) where a fresh attempt is expected to succeed.
	Retriable bool
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f == nil || f.Err == nil {
		return "upstream invocation failed"
	}
	return f.Err.Error()
}

// Unwrap exposes the underlying error for errors.Is/As.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Outcome is the settled result of an invocation. Exactly one of Payload and
// Failure is set.
type Outcome struct {
	Payload []byte
	Failure *Failure
}

// Invocation exposes one in-flight upstream call. Progress may deliver zero
// or more notes and is closed before Done settles. Done delivers exactly one
// Outcome and is then closed.
type Invocation struct {
	Progress <-chan string
	Done     <-chan Outcome
}

// Invoker starts analysis invocations. Invoke must return without blocking on
// the upstream work; callers consume the returned channels from their own
// goroutines. The ctx bounds the whole invocation and is expected to outlive
// the originating HTTP request.
type Invoker interface {
	Invoke(ctx context.Context, key string, req Request) *Invocation
}
