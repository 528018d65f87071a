package protocol

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits applied when the corresponding Limits field is zero.
const (
	DefaultMaxTextLen   = 1000
	DefaultNumericBound = 10000
)

var (
	ErrMissingID      = errors.New("protocol: missing id")
	ErrInvalidID      = errors.New("protocol: invalid id")
	ErrInvalidText    = errors.New("protocol: invalid text")
	ErrInvalidColor   = errors.New("protocol: invalid color")
	ErrInvalidSize    = errors.New("protocol: invalid size")
	ErrInvalidShape   = errors.New("protocol: invalid shape")
	ErrInvalidMarker  = errors.New("protocol: invalid marker")
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrOutOfRange     = errors.New("protocol: value out of range")
)

// idPattern bounds identifiers to 1-50 word characters or dashes.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var namedColors = map[string]struct{}{
	"red":    {},
	"green":  {},
	"blue":   {},
	"yellow": {},
	"white":  {},
	"black":  {},
}

// Limits bounds semantic validation. Zero fields fall back to defaults;
// a nil AllowedCommands admits the reserved command set.
type Limits struct {
	MaxTextLen      int
	NumericBound    float64
	AllowedCommands []string
}

// Validator rejects structurally or semantically unsafe messages before they
// reach shared state.
type Validator struct {
	maxTextLen int
	bound      float64
	commands   map[string]struct{}
}

// NewValidator builds a validator from lim.
func NewValidator(lim Limits) *Validator {
	v := &Validator{
		maxTextLen: lim.MaxTextLen,
		bound:      lim.NumericBound,
		commands:   make(map[string]struct{}),
	}
	if v.maxTextLen <= 0 {
		v.maxTextLen = DefaultMaxTextLen
	}
	if v.bound <= 0 {
		v.bound = DefaultNumericBound
	}
	allowed := lim.AllowedCommands
	if allowed == nil {
		allowed = []string{CommandExit, CommandClear, CommandStatus}
	}
	for _, name := range allowed {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			v.commands[name] = struct{}{}
		}
	}
	return v
}

// Validate checks msg against every rule and returns the first violation.
// A recognized command line does not require an id; everything else does.
func (v *Validator) Validate(msg Message) error {
	if msg.IsCommand() {
		if _, ok := v.commands[msg.CommandName()]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCommand, *msg.Command)
		}
	} else if msg.ID == "" {
		return ErrMissingID
	}
	if msg.ID != "" && !idPattern.MatchString(msg.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, msg.ID)
	}
	if err := v.checkText(msg.Text); err != nil {
		return err
	}
	if err := checkColor(msg.Color); err != nil {
		return err
	}
	if err := checkColor(msg.Fill); err != nil {
		return err
	}
	if err := checkEnum(msg.Size, ErrInvalidSize, SizeNormal, SizeLarge); err != nil {
		return err
	}
	if err := checkEnum(msg.Shape, ErrInvalidShape, ShapeRect, ShapeVector); err != nil {
		return err
	}
	for _, field := range []struct {
		name  string
		value *float64
	}{
		{"x", msg.X},
		{"y", msg.Y},
		{"w", msg.W},
		{"h", msg.H},
		{"ttl", msg.TTL},
	} {
		if err := v.checkRange(field.name, field.value); err != nil {
			return err
		}
	}
	for i, point := range msg.Vector {
		if err := v.checkPoint(i, point); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkPoint(i int, point VectorPoint) error {
	if point.X == nil || point.Y == nil {
		return fmt.Errorf("%w: vector[%d] missing position", ErrOutOfRange, i)
	}
	if err := v.checkRange(fmt.Sprintf("vector[%d].x", i), point.X); err != nil {
		return err
	}
	if err := v.checkRange(fmt.Sprintf("vector[%d].y", i), point.Y); err != nil {
		return err
	}
	if err := checkColor(point.Color); err != nil {
		return err
	}
	if err := checkEnum(point.Marker, ErrInvalidMarker, MarkerCross, MarkerCircle); err != nil {
		return err
	}
	return v.checkText(point.Text)
}

func (v *Validator) checkText(text *string) error {
	if text == nil {
		return nil
	}
	if utf8.RuneCountInString(*text) > v.maxTextLen {
		return fmt.Errorf("%w: %d chars exceeds %d", ErrInvalidText, utf8.RuneCountInString(*text), v.maxTextLen)
	}
	return nil
}

func (v *Validator) checkRange(name string, value *float64) error {
	if value == nil {
		return nil
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) || math.Abs(*value) > v.bound {
		return fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, *value)
	}
	return nil
}

func checkColor(color *string) error {
	if color == nil {
		return nil
	}
	if hexColorPattern.MatchString(*color) {
		return nil
	}
	if _, ok := namedColors[strings.ToLower(*color)]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidColor, *color)
}

func checkEnum(value *string, sentinel error, allowed ...string) error {
	if value == nil {
		return nil
	}
	for _, candidate := range allowed {
		if *value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", sentinel, *value)
}
