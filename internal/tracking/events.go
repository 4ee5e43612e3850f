package tracking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Server and client event names on the socket channel.
const (
	EventDriverUpdate     = "driver:update"
	EventAssignmentUpdate = "assignment:update"
	EventJoin             = "join"
	EventLeave            = "leave"
	EventJoinAssignment   = "join-assignment"
	EventLeaveAssignment  = "leave-assignment"
)

var (
	ErrInvalidLatitude  = errors.New("latitude must be a number between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be a number between -180 and 180")
	ErrUnknownEvent     = errors.New("unknown event")
)

// Position is a validated point on the map.
type Position struct {
	Lat float64
	Lng float64
	At  time.Time
}

// NewPosition validates a coordinate pair.
func NewPosition(lat, lng float64, at time.Time) (Position, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Position{}, ErrInvalidLatitude
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return Position{}, ErrInvalidLongitude
	}
	return Position{Lat: lat, Lng: lng, At: at}, nil
}

// Event is an inbound socket event. The concrete type is one of
// DriverUpdate, AssignmentUpdate, Connected or ConnectError.
type Event interface {
	event()
}

// DriverUpdate is a driver's new position.
type DriverUpdate struct {
	DriverID string
	Position Position
}

// AssignmentUpdate is the new position of an assignment's vehicle.
type AssignmentUpdate struct {
	AssignmentID string
	Position     Position
}

// Connected is emitted every time the transport (re)connects.
type Connected struct{}

// ConnectError is emitted when the transport fails to connect or drops.
type ConnectError struct {
	Err error
}

func (DriverUpdate) event()     {}
func (AssignmentUpdate) event() {}
func (Connected) event()        {}
func (ConnectError) event()     {}

// Frame is the wire envelope for every socket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes data into an envelope.
func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

type driverUpdatePayload struct {
	DriverID  string          `json:"driverId"`
	Lat       json.RawMessage `json:"lat"`
	Lng       json.RawMessage `json:"lng"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type assignmentUpdatePayload struct {
	AssignmentID string          `json:"assignmentId"`
	Lat          json.RawMessage `json:"lat"`
	Lng          json.RawMessage `json:"lng"`
	TS           time.Time       `json:"ts"`
}

// Decode turns a raw socket message into an Event. Updates with missing,
// non-numeric or out-of-range coordinates are rejected.
func Decode(msg []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case EventDriverUpdate:
		var p driverUpdatePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		pos, err := parsePosition(p.Lat, p.Lng, p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		return DriverUpdate{DriverID: p.DriverID, Position: pos}, nil

	case EventAssignmentUpdate:
		var p assignmentUpdatePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		pos, err := parsePosition(p.Lat, p.Lng, p.TS)
		if err != nil {
			return nil, err
		}
		return AssignmentUpdate{AssignmentID: p.AssignmentID, Position: pos}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func parsePosition(lat, lng json.RawMessage, at time.Time) (Position, error) {
	la, ok := parseNumber(lat)
	if !ok {
		return Position{}, ErrInvalidLatitude
	}
	ln, ok := parseNumber(lng)
	if !ok {
		return Position{}, ErrInvalidLongitude
	}
	return NewPosition(la, ln, at)
}

// parseNumber accepts a JSON number or a string holding one.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
