package session

import (
	"sync"

	"github.com/gamershub/hubclient/internal/models"
)

// Status of the current user. Unknown is the state before the startup
// sequence resolved: it is deliberately distinct from LoggedOut so the UI
// can tell "still checking" from "checked and not logged in".
type Status int

const (
	StatusUnknown Status = iota
	StatusLoggedOut
	StatusLoggedIn
)

func (s Status) String() string {
	switch s {
	case StatusLoggedOut:
		return "logged-out"
	case StatusLoggedIn:
		return "logged-in"
	default:
		return "unknown"
	}
}

// AuthState is the published three-valued session state.
// User is non-nil exactly when Status is StatusLoggedIn.
type AuthState struct {
	Status Status
	User   *models.User
}

// broadcaster is a publish/subscribe cell over a single current value with
// last-value replay: late subscribers immediately receive the state that was
// current when they subscribed.
type broadcaster struct {
	mu      sync.Mutex
	current AuthState
	subs    map[int]chan AuthState
	nextID  int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		current: AuthState{Status: StatusUnknown},
		subs:    make(map[int]chan AuthState),
	}
}

// Current returns the latest published state
func (b *broadcaster) Current() AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish replaces the current state and notifies every subscriber. When
// publish returns the new state is visible to Current, so a synchronous
// caller (logout) can rely on no stale reads afterwards.
func (b *broadcaster) Publish(state AuthState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = state
	for _, ch := range b.subs {
		// A slow subscriber loses the oldest update, never the newest:
		// drop one buffered element and deliver the fresh state instead
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

// Subscribe registers a new observer. The returned channel immediately
// carries the current state. Call the cancel function to unsubscribe.
func (b *broadcaster) Subscribe() (<-chan AuthState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan AuthState, 16)
	ch <- b.current
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return ch, cancel
}
