package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reserved control commands allowed by the default configuration.
const (
	CommandExit   = "exit"
	CommandClear  = "clear"
	CommandStatus = "status"
)

// Size classes accepted for text graphics.
const (
	SizeNormal = "normal"
	SizeLarge  = "large"
)

// Shapes accepted for non-text graphics.
const (
	ShapeRect   = "rect"
	ShapeVector = "vect"
)

// Markers accepted on vector points.
const (
	MarkerCross  = "cross"
	MarkerCircle = "circle"
)

var ErrMalformed = errors.New("protocol: malformed message")

// VectorPoint is one entry of a vector graphic. X and Y stay nil when the
// producer omitted them so validation can tell absence from zero.
type VectorPoint struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Color  *string  `json:"color,omitempty"`
	Marker *string  `json:"marker,omitempty"`
	Text   *string  `json:"text,omitempty"`
}

// Message is one decoded overlay line. Every field except ID is optional and
// kept as a pointer/slice; unknown keys are ignored, wrong-typed values fail
// decode.
type Message struct {
	ID      string        `json:"id"`
	Text    *string       `json:"text,omitempty"`
	Size    *string       `json:"size,omitempty"`
	Color   *string       `json:"color,omitempty"`
	Fill    *string       `json:"fill,omitempty"`
	X       *float64      `json:"x,omitempty"`
	Y       *float64      `json:"y,omitempty"`
	W       *float64      `json:"w,omitempty"`
	H       *float64      `json:"h,omitempty"`
	Shape   *string       `json:"shape,omitempty"`
	Vector  []VectorPoint `json:"vector,omitempty"`
	TTL     *float64      `json:"ttl,omitempty"`
	Command *string       `json:"command,omitempty"`
}

// Decode parses one line into the typed schema.
func Decode(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// CommandName returns the normalized command name, or "" for graphic updates.
func (m Message) CommandName() string {
	if m.Command == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*m.Command))
}

// IsCommand reports whether the line carries a command field.
func (m Message) IsCommand() bool {
	return m.Command != nil
}
