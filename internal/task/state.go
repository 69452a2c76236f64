package task

// State is the per-record position in the sync state machine.
//
//	local_only ──push queued──▶ pending_push ──confirmed──▶ synced
//	     ▲                          ▲    │                     │
//	     │                          └────┴──── local edit ◀────┘
//	  created                    delete ──▶ pending_delete ──confirmed──▶ (gone)
//	                        pull sees both sides changed ──▶ conflict ──LWW──▶ synced | pending_push
type State string

const (
	// StateLocalOnly is the initial state: never handed to the remote.
	// Edits keep a task here; it moves to pending_push when a push begins,
	// so pending_push always means the remote may hold an older copy.
	StateLocalOnly State = "local_only"
	// StatePendingPush means the record is queued for upload.
	StatePendingPush State = "pending_push"
	// StateSynced means the local content matches the last confirmed remote write.
	StateSynced State = "synced"
	// StatePendingDelete means a local delete has not been confirmed remotely.
	StatePendingDelete State = "pending_delete"
	// StateConflict means both sides changed since the last sync.
	StateConflict State = "conflict"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateLocalOnly, StatePendingPush, StateSynced, StatePendingDelete, StateConflict:
		return true
	default:
		return false
	}
}

// String returns the state name.
func (s State) String() string {
	return string(s)
}
