// Package event defines the download event vocabulary and its
// Server-Sent-Events encoding.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind is the wire name of an event, sent as the "type" field.
type Kind string

const (
	KindStarted   Kind = "started"
	KindInfo      Kind = "info"
	KindWarning   Kind = "warning"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindCancelled Kind = "cancelled"
	KindError     Kind = "error"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// Started is emitted once when a download is accepted.
type Started struct {
	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name"`
}

// Info carries informational messages such as the current method or attempt.
type Info struct {
	Message string `json:"message"`
}

// Warning reports a non-terminal problem, e.g. a skipped method.
type Warning struct {
	Message string `json:"message"`
}

// Progress reports transfer progress of the current attempt.
type Progress struct {
	Progress   int     `json:"progress"`
	SpeedMBps  float64 `json:"speed_mbps"`
	ETASeconds int     `json:"eta_seconds"`
	Method     string  `json:"method"`
}

// Completed is terminal: the artifact is in place.
type Completed struct {
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Method   string `json:"method,omitempty"`
}

// Cancelled is terminal: the user cancelled the download.
type Cancelled struct {
	Message string `json:"message"`
}

// Error is terminal: the download failed.
type Error struct {
	Message string `json:"message"`
}

func (Started) Kind() Kind   { return KindStarted }
func (Info) Kind() Kind      { return KindInfo }
func (Warning) Kind() Kind   { return KindWarning }
func (Progress) Kind() Kind  { return KindProgress }
func (Completed) Kind() Kind { return KindCompleted }
func (Cancelled) Kind() Kind { return KindCancelled }
func (Error) Kind() Kind     { return KindError }

func (Started) isEvent()   {}
func (Info) isEvent()      {}
func (Warning) isEvent()   {}
func (Progress) isEvent()  {}
func (Completed) isEvent() {}
func (Cancelled) isEvent() {}
func (Error) isEvent()     {}

// IsTerminal reports whether the event ends a download stream.
func IsTerminal(ev Event) bool {
	switch ev.Kind() {
	case KindCompleted, KindCancelled, KindError:
		return true
	default:
		return false
	}
}

// Encode serializes an event as a JSON object with a leading "type" field.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case Started:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Started
		}{e.Kind(), e})
	case Info:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Info
		}{e.Kind(), e})
	case Warning:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Warning
		}{e.Kind(), e})
	case Progress:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Progress
		}{e.Kind(), e})
	case Completed:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Completed
		}{e.Kind(), e})
	case Cancelled:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Cancelled
		}{e.Kind(), e})
	case Error:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Error
		}{e.Kind(), e})
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
}
