package command

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateID is returned by Create when the id is already tracked.
	ErrDuplicateID = errors.New("command id already registered")
	// ErrUnknownCommand is returned for ids the registry is not tracking.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrAlreadyResolved is returned when a resolve attempt conflicts with an
	// earlier terminal transition.
	ErrAlreadyResolved = errors.New("command already resolved")
)

// DefaultGracePeriod is how long a terminal command remains queryable before
// the registry evicts it.
const DefaultGracePeriod = 5 * time.Minute

// Subscriber is a one-shot callback fired when a command reaches a terminal
// state. It is invoked at most once, outside the registry lock.
type Subscriber func(Command)

type entry struct {
	cmd        Command
	subscriber Subscriber
	timeout    *time.Timer
}

// Registry tracks in-flight commands. Resolve is a check-and-set on status,
// so the timeout timer and the ack listener can race safely: exactly one
// terminal transition wins.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	grace   time.Duration
}

// NewRegistry creates a registry. grace <= 0 uses DefaultGracePeriod.
func NewRegistry(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Registry{
		entries: make(map[string]*entry),
		grace:   grace,
	}
}

// Create inserts cmd in pending state. The id must be unused.
func (r *Registry) Create(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[cmd.ID]; exists {
		return ErrDuplicateID
	}
	cmd.Status = StatusPending
	r.entries[cmd.ID] = &entry{cmd: cmd}
	return nil
}

// SetTimeout attaches the per-command timeout timer so Resolve can cancel it.
func (r *Registry) SetTimeout(id string, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.timeout = t
	}
}

// Resolve transitions the command to a terminal status. It reports whether
// this call won the transition: repeating the same terminal status is a
// no-op (false, nil); a conflicting terminal status is rejected with
// ErrAlreadyResolved. The one-shot subscriber fires only on the winning call.
func (r *Registry) Resolve(id string, status Status, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("resolve requires a terminal status")
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrUnknownCommand
	}
	if e.cmd.Status.Terminal() {
		prev := e.cmd.Status
		r.mu.Unlock()
		if prev == status {
			return false, nil
		}
		return false, ErrAlreadyResolved
	}

	e.cmd.Status = status
	e.cmd.Error = errMsg
	if e.timeout != nil {
		e.timeout.Stop()
		e.timeout = nil
	}
	subscriber := e.subscriber
	e.subscriber = nil
	snapshot := e.cmd
	r.mu.Unlock()

	// Terminal entries stay queryable for the grace period, then drop.
	time.AfterFunc(r.grace, func() { r.evict(id) })

	if subscriber != nil {
		subscriber(snapshot)
	}
	return true, nil
}

// Get returns a snapshot of the command.
func (r *Registry) Get(id string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Command{}, false
	}
	return e.cmd, true
}

// Subscribe attaches a one-shot callback fired on resolution. If the command
// is already terminal the callback fires immediately.
func (r *Registry) Subscribe(id string, fn Subscriber) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownCommand
	}
	if e.cmd.Status.Terminal() {
		snapshot := e.cmd
		r.mu.Unlock()
		fn(snapshot)
		return nil
	}
	e.subscriber = fn
	r.mu.Unlock()
	return nil
}

// Len reports how many commands the registry currently tracks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
