package supervisor

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is the success result of Start.
type Outcome struct {
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	Ready     bool          `json:"ready"` // false when resolved by the timeout
	PID       int           `json:"pid"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Messages reported to callers.
const (
	MessageReady    = "Agent started successfully"
	MessageStarting = "Agent process started (connection in progress)"
	MessageNotFound = "no worker found"
)

// request tracks one Start call. Its result cell is written at most once:
// the first resolve wins and every later one is discarded.
type request struct {
	sessionID string
	createdAt time.Time

	mu      sync.Mutex
	state   RequestState
	outcome Outcome
	err     error
	cause   string // event that resolved the request
	done    chan struct{}
}

func newRequest(sessionID string) *request {
	return &request{
		sessionID: sessionID,
		createdAt: time.Now(),
		state:     StatePreparing,
		done:      make(chan struct{}),
	}
}

// advance moves a pending request to the next phase. It is a no-op once the
// request has resolved, and phases never move backwards.
func (r *request) advance(next RequestState) bool {
	if next.IsTerminal() {
		panic(fmt.Sprintf("advance to terminal state %s", next))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() || next <= r.state {
		return false
	}
	r.state = next
	return true
}

// succeed resolves the request successfully. Returns false if it had
// already resolved.
func (r *request) succeed(cause string, o Outcome) bool {
	return r.resolve(cause, StateResolvedSuccess, o, nil)
}

// fail resolves the request with err. Returns false if it had already resolved.
func (r *request) fail(cause string, err error) bool {
	return r.resolve(cause, StateResolvedFailure, Outcome{}, err)
}

func (r *request) resolve(cause string, final RequestState, o Outcome, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() {
		return false
	}
	r.state = final
	r.cause = cause
	r.outcome = o
	r.err = err
	close(r.done)
	return true
}

// Done is closed when the request resolves.
func (r *request) Done() <-chan struct{} {
	return r.done
}

// State returns the current phase.
func (r *request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the resolved outcome. Only meaningful after Done.
func (r *request) Result() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.err
}

// Cause names the event that resolved the request.
func (r *request) Cause() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}
