// Package protocol implements the plaintext wire grammar spoken between the
// Sensor, Hub and Actuator nodes. One datagram carries exactly one message.
package protocol

import "strings"

// Kind tags the variant carried by a Message.
type Kind int

const (
	KindUnknown Kind = iota
	KindTelemetry
	KindCommand
	KindAck
	KindStatus
	KindTest
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindCommand:
		return "command"
	case KindAck:
		return "ack"
	case KindStatus:
		return "status"
	case KindTest:
		return "test"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Telemetry holds the readings carried by a sensor message. A nil field was
// not present (or not usable) in the message and must not be read as zero.
type Telemetry struct {
	Temperature *float64
	Humidity    *float64
	Distance    *float64
}

// Empty reports whether no reading is present.
func (t Telemetry) Empty() bool {
	return t.Temperature == nil && t.Humidity == nil && t.Distance == nil
}

// Status is the actuator's report of its physical outputs.
type Status struct {
	Heat       bool
	Fan        bool
	Humidifier bool
	Door       bool
}

// Get returns the reported state of ch.
func (s Status) Get(ch Channel) bool {
	switch ch {
	case Heat:
		return s.Heat
	case Fan:
		return s.Fan
	case Humidifier:
		return s.Humidifier
	case Door:
		return s.Door
	}
	return false
}

// Set records the state of ch.
func (s *Status) Set(ch Channel, on bool) {
	switch ch {
	case Heat:
		s.Heat = on
	case Fan:
		s.Fan = on
	case Humidifier:
		s.Humidifier = on
	case Door:
		s.Door = on
	}
}

// Message is a tagged union over every wire variant. Only the fields that
// belong to Kind are meaningful.
type Message struct {
	Kind      Kind
	Telemetry Telemetry
	Channel   Channel
	On        bool
	// Probe marks the "ACK:TEST" reply to a TEST message.
	Probe  bool
	Status Status
	// Text is the free text of an Error, or the raw input of an Unknown.
	Text string
}

func NewTelemetry(t Telemetry) Message {
	return Message{Kind: KindTelemetry, Telemetry: t}
}

func NewCommand(ch Channel, on bool) Message {
	return Message{Kind: KindCommand, Channel: ch, On: on}
}

func NewAck(ch Channel, on bool) Message {
	return Message{Kind: KindAck, Channel: ch, On: on}
}

// NewProbeAck builds the acknowledgment of a TEST message.
func NewProbeAck() Message {
	return Message{Kind: KindAck, Probe: true}
}

func NewStatus(s Status) Message {
	return Message{Kind: KindStatus, Status: s}
}

func NewTest() Message {
	return Message{Kind: KindTest}
}

// NewError builds an ERROR message. Surrounding whitespace is dropped since
// the decoder does not preserve it.
func NewError(text string) Message {
	return Message{Kind: KindError, Text: strings.TrimSpace(text)}
}

// Float is a convenience for building Telemetry literals.
func Float(v float64) *float64 {
	return &v
}
