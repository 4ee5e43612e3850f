// Package tracking follows the live position of one driver or assignment over
// the backend's websocket channel.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/core/session"
)

var (
	ErrNotAuthenticated = errors.New("tracking requires an authenticated session")
	ErrNoCompany        = errors.New("session has no company id to join the driver room")
	ErrUnknownKind      = errors.New("unknown entity kind")
)

// Kind is the type of tracked entity.
type Kind string

const (
	KindDriver     Kind = "driver"
	KindAssignment Kind = "assignment"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDriver, KindAssignment:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// AssignmentFetcher loads an assignment snapshot for seeding its position.
type AssignmentFetcher interface {
	GetAssignment(ctx context.Context, id string) (api.Assignment, error)
}

type roomPayload struct {
	CompanyID    string `json:"companyId,omitempty"`
	AssignmentID string `json:"assignmentId,omitempty"`
}

type subscription struct {
	kind      Kind
	id        string
	companyID string
	socket    Socket
	done      chan struct{}
}

func (s *subscription) join() (string, roomPayload) {
	if s.kind == KindAssignment {
		return EventJoinAssignment, roomPayload{AssignmentID: s.id}
	}
	return EventJoin, roomPayload{CompanyID: s.companyID}
}

func (s *subscription) leave() (string, roomPayload) {
	if s.kind == KindAssignment {
		return EventLeaveAssignment, roomPayload{AssignmentID: s.id}
	}
	return EventLeave, roomPayload{CompanyID: s.companyID}
}

// Tracker owns at most one tracking subscription. Changing the selection
// always tears the previous subscription down completely before the next one
// is set up.
type Tracker struct {
	dialer      Dialer
	sessions    session.Store
	positions   *PositionStore
	assignments AssignmentFetcher
	toaster     notify.Toaster
	log         zerolog.Logger

	mu  sync.Mutex // held across teardown and setup
	sub *subscription

	selMu   sync.RWMutex
	selKind Kind
	selID   string
}

// NewTracker creates a Tracker publishing positions to positions.
func NewTracker(dialer Dialer, sessions session.Store, positions *PositionStore, log zerolog.Logger) *Tracker {
	return &Tracker{
		dialer:    dialer,
		sessions:  sessions,
		positions: positions,
		log:       log,
	}
}

// WithAssignments seeds assignment selections from their last known location.
func (t *Tracker) WithAssignments(f AssignmentFetcher) *Tracker {
	t.assignments = f
	return t
}

// WithToaster surfaces connection errors as warnings.
func (t *Tracker) WithToaster(n notify.Toaster) *Tracker {
	t.toaster = n
	return t
}

// Positions returns the store the tracker publishes to.
func (t *Tracker) Positions() *PositionStore {
	return t.positions
}

// Selection returns the currently tracked entity. id is empty when nothing
// is selected.
func (t *Tracker) Selection() (Kind, string) {
	t.selMu.RLock()
	defer t.selMu.RUnlock()
	return t.selKind, t.selID
}

// Select switches tracking to the given entity. An empty id clears the
// selection.
func (t *Tracker) Select(ctx context.Context, kind Kind, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.teardown()

	if id == "" {
		return nil
	}
	if kind != KindDriver && kind != KindAssignment {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	sess, err := t.sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.AccessToken == "" {
		return ErrNotAuthenticated
	}

	companyID := sess.CompanyID()
	if kind == KindDriver && companyID == "" {
		return ErrNoCompany
	}

	t.setSelection(kind, id)

	if kind == KindAssignment && t.assignments != nil {
		t.seed(ctx, id)
	}

	socket, err := t.dialer.Dial(ctx, sess.AccessToken)
	if err != nil {
		t.setSelection("", "")
		t.positions.Reset()
		return fmt.Errorf("dial tracking socket: %w", err)
	}

	sub := &subscription{
		kind:      kind,
		id:        id,
		companyID: companyID,
		socket:    socket,
		done:      make(chan struct{}),
	}
	t.sub = sub

	t.log.Debug().Str("kind", string(kind)).Str("id", id).Msg("tracking started")
	go t.dispatch(sub)
	return nil
}

// Close tears down any active subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardown()
}

// teardown leaves the room, disconnects and waits for the dispatch loop to
// exit. Callers hold t.mu.
func (t *Tracker) teardown() {
	t.setSelection("", "")
	defer t.positions.Reset()

	sub := t.sub
	if sub == nil {
		return
	}
	t.sub = nil

	event, payload := sub.leave()
	if err := sub.socket.Emit(event, payload); err != nil {
		t.log.Debug().Err(err).Str("event", event).Msg("leave not delivered")
	}

	if err := sub.socket.Close(); err != nil {
		t.log.Debug().Err(err).Msg("close tracking socket")
	}
	<-sub.done

	t.log.Debug().Str("kind", string(sub.kind)).Str("id", sub.id).Msg("tracking stopped")
}

func (t *Tracker) seed(ctx context.Context, id string) {
	a, err := t.assignments.GetAssignment(ctx, id)
	if err != nil {
		t.log.Warn().Err(err).Str("assignment", id).Msg("seed assignment position")
		return
	}
	if a.LastKnownLocation == nil {
		return
	}

	pos, err := NewPosition(a.LastKnownLocation.Lat, a.LastKnownLocation.Lng, time.Time{})
	if err != nil {
		t.log.Debug().Err(err).Str("assignment", id).Msg("ignoring invalid last known location")
		return
	}
	t.positions.Set(Update{Kind: KindAssignment, ID: id, Position: pos})
}

// dispatch is the single consumer of a subscription's events.
func (t *Tracker) dispatch(sub *subscription) {
	defer close(sub.done)

	for ev := range sub.socket.Events() {
		switch e := ev.(type) {
		case Connected:
			event, payload := sub.join()
			if err := sub.socket.Emit(event, payload); err != nil {
				t.log.Warn().Err(err).Str("event", event).Msg("join room")
			}

		case ConnectError:
			t.log.Warn().Err(e.Err).Msg("tracking socket connect error")
			if t.toaster != nil {
				t.toaster.Toast(notify.New("tracking.error", fmt.Sprintf("live tracking: %v", e.Err)))
			}

		case DriverUpdate:
			t.apply(KindDriver, e.DriverID, e.Position)

		case AssignmentUpdate:
			t.apply(KindAssignment, e.AssignmentID, e.Position)
		}
	}
}

// apply records pos if it belongs to the entity selected right now.
func (t *Tracker) apply(kind Kind, id string, pos Position) {
	selKind, selID := t.Selection()
	if selID == "" || kind != selKind || id != selID {
		return
	}
	if pos.At.IsZero() {
		pos.At = time.Now()
	}
	t.positions.Set(Update{Kind: kind, ID: id, Position: pos})
}

func (t *Tracker) setSelection(kind Kind, id string) {
	t.selMu.Lock()
	defer t.selMu.Unlock()
	t.selKind = kind
	t.selID = id
}
