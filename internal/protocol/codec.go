package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	tagAck    = "ACK:"
	tagStatus = "STATUS:"
	tagError  = "ERROR:"
	tagTest   = "TEST"

	fieldSeparator = " | "
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrBadState       = errors.New("unrecognized state")
	ErrNoTelemetry    = errors.New("no usable telemetry field")
	ErrMalformed      = errors.New("malformed message")
)

// DecodeError reports input that looked like a known variant but could not be
// decoded. It is diagnostic only and never fatal.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes m into its wire form. Telemetry with no readings has no
// wire form and encodes to an empty payload, which decodes as KindUnknown;
// senders report that case with an ERROR message instead.
func Encode(m Message) []byte {
	switch m.Kind {
	case KindTelemetry:
		return []byte(encodeTelemetry(m.Telemetry))
	case KindCommand:
		return []byte(m.Channel.String() + ":" + stateDigit(m.On))
	case KindAck:
		if m.Probe {
			return []byte(tagAck + tagTest)
		}
		return []byte(tagAck + m.Channel.String() + ":" + stateDigit(m.On))
	case KindStatus:
		parts := make([]string, 0, len(Channels))
		for _, ch := range Channels {
			parts = append(parts, ch.String()+":"+stateDigit(m.Status.Get(ch)))
		}
		return []byte(tagStatus + strings.Join(parts, ","))
	case KindTest:
		return []byte(tagTest)
	case KindError:
		return []byte(tagError + m.Text)
	}
	return []byte(m.Text)
}

func encodeTelemetry(t Telemetry) string {
	parts := make([]string, 0, 3)
	if t.Temperature != nil {
		parts = append(parts, "Temp:"+formatFloat(*t.Temperature)+"°C")
	}
	if t.Humidity != nil {
		parts = append(parts, "Humidity:"+formatFloat(*t.Humidity)+"%")
	}
	if t.Distance != nil {
		parts = append(parts, "Distance:"+formatFloat(*t.Distance)+"cm")
	}
	return strings.Join(parts, fieldSeparator)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Decode parses one datagram. Input matching no grammar yields a KindUnknown
// message and a nil error; input that matches a grammar but is malformed
// yields a KindUnknown message and a *DecodeError. Decode never panics.
func Decode(raw []byte) (Message, error) {
	if !utf8.Valid(raw) {
		return Message{Kind: KindUnknown, Text: fmt.Sprintf("% x", raw)}, nil
	}
	s := strings.TrimSpace(string(raw))

	switch {
	case s == "":
		return Message{Kind: KindUnknown}, nil
	case s == tagTest:
		return NewTest(), nil
	case strings.HasPrefix(s, tagAck):
		return decodeAck(s)
	case strings.HasPrefix(s, tagStatus):
		return decodeStatus(s)
	case strings.HasPrefix(s, tagError):
		return NewError(s[len(tagError):]), nil
	case looksLikeTelemetry(s):
		return decodeTelemetry(s)
	case strings.Contains(s, ":"):
		return decodeCommand(s)
	}
	return Message{Kind: KindUnknown, Text: s}, nil
}

func fail(s string, err error) (Message, error) {
	return Message{Kind: KindUnknown, Text: s}, &DecodeError{Input: s, Err: err}
}

func decodeCommand(s string) (Message, error) {
	name, state, _ := strings.Cut(s, ":")
	ch, ok := ParseChannel(name)
	if !ok {
		return fail(s, ErrUnknownChannel)
	}
	on, ok := ParseState(state)
	if !ok {
		return fail(s, ErrBadState)
	}
	return NewCommand(ch, on), nil
}

func decodeAck(s string) (Message, error) {
	body := s[len(tagAck):]
	if strings.TrimSpace(body) == tagTest {
		return NewProbeAck(), nil
	}
	name, state, found := strings.Cut(body, ":")
	if !found {
		return fail(s, ErrMalformed)
	}
	ch, ok := ParseChannel(name)
	if !ok {
		return fail(s, ErrUnknownChannel)
	}
	on, ok := ParseState(state)
	if !ok {
		return fail(s, ErrBadState)
	}
	return NewAck(ch, on), nil
}

func decodeStatus(s string) (Message, error) {
	var (
		st   Status
		seen [len(Channels)]bool
	)
	for _, pair := range strings.Split(s[len(tagStatus):], ",") {
		name, state, found := strings.Cut(pair, ":")
		if !found {
			return fail(s, ErrMalformed)
		}
		ch, ok := ParseChannel(name)
		if !ok {
			return fail(s, ErrUnknownChannel)
		}
		on, ok := ParseState(state)
		if !ok {
			return fail(s, ErrBadState)
		}
		st.Set(ch, on)
		seen[ch] = true
	}
	for _, ok := range seen {
		if !ok {
			return fail(s, ErrMalformed)
		}
	}
	return NewStatus(st), nil
}

type telemetryField int

const (
	fieldNone telemetryField = iota
	fieldTemperature
	fieldHumidity
	fieldDistance
)

var units = [...]string{"°C", "C", "%", "cm"}

// segments splits a telemetry line on the separators the sensor firmware has
// used over time: " | " between readings and ", " inside a reading group.
func segments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
}

func classify(label string) telemetryField {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "temp", "temperature":
		return fieldTemperature
	case "humidity":
		return fieldHumidity
	case "distance":
		return fieldDistance
	}
	return fieldNone
}

func looksLikeTelemetry(s string) bool {
	for _, seg := range segments(s) {
		label, _, found := strings.Cut(seg, ":")
		if found && classify(label) != fieldNone {
			return true
		}
	}
	return false
}

func parseReading(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	for _, u := range units {
		if strings.HasSuffix(v, u) {
			v = strings.TrimSpace(strings.TrimSuffix(v, u))
			break
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// decodeTelemetry keeps the first parsable value of each label. A reading the
// sensor marked unusable ("Distance: Out of range") leaves that field absent.
func decodeTelemetry(s string) (Message, error) {
	var t Telemetry
	for _, seg := range segments(s) {
		label, value, found := strings.Cut(seg, ":")
		if !found {
			continue
		}
		f, ok := parseReading(value)
		if !ok {
			continue
		}
		switch classify(label) {
		case fieldTemperature:
			if t.Temperature == nil {
				t.Temperature = Float(f)
			}
		case fieldHumidity:
			if t.Humidity == nil {
				t.Humidity = Float(f)
			}
		case fieldDistance:
			if t.Distance == nil {
				t.Distance = Float(f)
			}
		}
	}
	if t.Empty() {
		return fail(s, ErrNoTelemetry)
	}
	return NewTelemetry(t), nil
}
