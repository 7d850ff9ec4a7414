package control

import "furitingoasis/wiredin/internal/protocol"

// Transition is a single required change of an actuator channel.
type Transition struct {
	Channel protocol.Channel
	On      bool
}

// Evaluate computes the transitions needed to bring belief in line with the
// thresholds for sample. Channels are evaluated independently in the order
// Heat, Fan, Humidifier, Door; a channel whose inputs are absent is skipped.
// Only channels whose target differs from belief are returned, and nothing
// is returned while override is enabled.
func Evaluate(sample Sample, th Thresholds, belief Belief) []Transition {
	if belief.Override {
		return nil
	}

	var out []Transition
	for _, ch := range protocol.Channels {
		target, ok := desired(ch, sample, th)
		if !ok || target == belief.Get(ch) {
			continue
		}
		out = append(out, Transition{Channel: ch, On: target})
	}
	return out
}

func desired(ch protocol.Channel, s Sample, th Thresholds) (bool, bool) {
	switch ch {
	case protocol.Heat:
		if s.Temperature == nil {
			return false, false
		}
		return *s.Temperature < th.TempLower, true

	case protocol.Fan:
		if s.Temperature == nil && s.Humidity == nil {
			return false, false
		}
		hot := s.Temperature != nil && *s.Temperature > th.TempUpper
		humid := s.Humidity != nil && *s.Humidity > th.HumidUpper
		return hot || humid, true

	case protocol.Humidifier:
		if s.Humidity == nil {
			return false, false
		}
		return *s.Humidity < th.HumidLower, true

	case protocol.Door:
		if s.Distance == nil {
			return false, false
		}
		return *s.Distance < th.DistanceThreshold, true
	}
	return false, false
}
