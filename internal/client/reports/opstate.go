package reports

import "sync"

// Operation names tracked by the client.
const (
	OpListMine    = "list_mine"
	OpListAll     = "list_all"
	OpCreate      = "create"
	OpUpdate      = "update"
	OpRemove      = "remove"
	OpSetStatus   = "set_status"
	OpAttachMedia = "attach_media"
)

// OpState is the progress of the latest call of one operation.
type OpState struct {
	Loading bool
	Err     error
}

type opTracker struct {
	mu     sync.Mutex
	states map[string]OpState
}

func newOpTracker() *opTracker {
	return &opTracker{states: map[string]OpState{}}
}

// begin marks the operation as loading and returns the function that
// records its outcome. Call the result in a defer.
func (t *opTracker) begin(op string) func(err *error) {
	t.mu.Lock()
	t.states[op] = OpState{Loading: true}
	t.mu.Unlock()
	return func(err *error) {
		var final error
		if err != nil {
			final = *err
		}
		t.mu.Lock()
		t.states[op] = OpState{Err: final}
		t.mu.Unlock()
	}
}

func (t *opTracker) get(op string) OpState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[op]
}
