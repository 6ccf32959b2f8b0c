package server

import (
	"sync"
	"time"
)

const defaultCommandTTL = 5 * time.Minute

type trackState int

const (
	trackNew trackState = iota
	trackInFlight
	trackDone
)

type trackerKey struct {
	userId    string
	commandId string
}

type trackedCommand struct {
	response *ServerMessage
	expires  time.Time
}

// CommandTracker remembers command ids per user so a retried command is
// applied at most once. Completed commands keep their response until the
// ttl passes.
type CommandTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	commands map[trackerKey]*trackedCommand
}

func NewCommandTracker(ttl time.Duration) *CommandTracker {
	if ttl <= 0 {
		ttl = defaultCommandTTL
	}
	return &CommandTracker{
		ttl:      ttl,
		now:      time.Now,
		commands: make(map[trackerKey]*trackedCommand),
	}
}

// Begin registers a command. If the command was seen before it reports
// whether it is still in flight or, for completed ones, returns the
// response that was sent.
func (t *CommandTracker) Begin(userId, commandId string) (trackState, *ServerMessage) {
	if commandId == "" {
		return trackNew, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackerKey{userId, commandId}
	if tc, ok := t.commands[key]; ok && t.now().Before(tc.expires) {
		if tc.response == nil {
			return trackInFlight, nil
		}
		return trackDone, tc.response
	}

	t.commands[key] = &trackedCommand{expires: t.now().Add(t.ttl)}
	return trackNew, nil
}

func (t *CommandTracker) Complete(userId, commandId string, response *ServerMessage) {
	if commandId == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.commands[trackerKey{userId, commandId}] = &trackedCommand{
		response: response,
		expires:  t.now().Add(t.ttl),
	}
}

// Abort forgets a command that was never applied so it can be retried.
func (t *CommandTracker) Abort(userId, commandId string) {
	if commandId == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.commands, trackerKey{userId, commandId})
}

// Prune drops expired entries and returns how many were removed.
func (t *CommandTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var n int
	for key, tc := range t.commands {
		if !now.Before(tc.expires) {
			delete(t.commands, key)
			n++
		}
	}
	return n
}

func (t *CommandTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.commands)
}
