package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"furitingoasis/wiredin/internal/control"
	"furitingoasis/wiredin/internal/protocol"
)

// Update is a decoded control message. Nil fields were not present.
type Update struct {
	TempLower         *float64
	TempUpper         *float64
	HumidLower        *float64
	HumidUpper        *float64
	DistanceThreshold *float64

	TakeOver *bool
	Channels map[protocol.Channel]bool
}

// channelKeys maps control-message keys to channels.
var channelKeys = map[string]protocol.Channel{
	"heat":  protocol.Heat,
	"fan":   protocol.Fan,
	"humid": protocol.Humidifier,
	"servo": protocol.Door,
}

// ParseUpdate decodes a control message. Fields with unusable values are
// skipped and reported in the returned error; the remaining fields are still
// returned so they can be applied.
func ParseUpdate(payload []byte) (Update, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Update{}, fmt.Errorf("control message: %w", err)
	}

	var (
		u    Update
		errs []error
	)
	number := func(key string, dst **float64) {
		v, ok := raw[key]
		if !ok {
			return
		}
		f, err := parseNumber(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = &f
	}
	number("temp_lower", &u.TempLower)
	number("temp_upper", &u.TempUpper)
	number("humid_lower", &u.HumidLower)
	number("humid_upper", &u.HumidUpper)
	number("distance_threshold", &u.DistanceThreshold)

	if v, ok := raw["take_over"]; ok {
		b, err := parseTruthy(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("take_over: %w", err))
		} else {
			u.TakeOver = &b
		}
	}

	for key, ch := range channelKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		b, err := parseTruthy(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if u.Channels == nil {
			u.Channels = make(map[protocol.Channel]bool)
		}
		u.Channels[ch] = b
	}
	return u, errors.Join(errs...)
}

// ApplyThresholds overwrites every threshold present in u.
func (u Update) ApplyThresholds(th *control.Thresholds) bool {
	changed := false
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
			changed = true
		}
	}
	set(&th.TempLower, u.TempLower)
	set(&th.TempUpper, u.TempUpper)
	set(&th.HumidLower, u.HumidLower)
	set(&th.HumidUpper, u.HumidUpper)
	set(&th.DistanceThreshold, u.DistanceThreshold)
	return changed
}

// AppliesChannels reports whether the channel fields of u are explicit
// commands: take-over is already enabled or the message itself carries
// take_over.
func (u Update) AppliesChannels(overrideEnabled bool) bool {
	return overrideEnabled || u.TakeOver != nil
}

var errNull = errors.New("null value")

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func parseNumber(v json.RawMessage) (float64, error) {
	if isNull(v) {
		return 0, errNull
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("not a number: %s", v)
}

func parseTruthy(v json.RawMessage) (bool, error) {
	if isNull(v) {
		return false, errNull
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f != 0, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if on, ok := protocol.ParseState(s); ok {
			return on, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %s", v)
}
