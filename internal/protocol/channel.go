package protocol

import "strings"

// Channel identifies one actuator output on the Actuator node.
type Channel int

const (
	Heat Channel = iota
	Fan
	Humidifier
	Door
)

// Channels lists every channel in evaluation order.
var Channels = [...]Channel{Heat, Fan, Humidifier, Door}

var channelNames = [...]string{
	Heat:       "heat",
	Fan:        "fan",
	Humidifier: "humid",
	Door:       "servo",
}

// Valid reports whether c is one of the four known channels.
func (c Channel) Valid() bool {
	return c >= Heat && c <= Door
}

// String returns the wire name of the channel.
func (c Channel) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return channelNames[c]
}

// ParseChannel maps a wire name (case-insensitive) to a Channel.
// "humidifier" and "door" are accepted as aliases.
func ParseChannel(name string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "heat":
		return Heat, true
	case "fan":
		return Fan, true
	case "humid", "humidifier":
		return Humidifier, true
	case "servo", "door":
		return Door, true
	}
	return 0, false
}

// ParseState accepts 1/0 and case-insensitive on/off/true/false.
func ParseState(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true":
		return true, true
	case "0", "off", "false":
		return false, true
	}
	return false, false
}

func stateDigit(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
