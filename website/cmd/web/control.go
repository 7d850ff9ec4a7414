package main

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"furitingoasis/wiredin/internal/bridge"
	"furitingoasis/wiredin/website/internal/validator"
)

// controlForm mirrors the hub's control message. Blank fields are left out
// so the hub keeps its current value.
type controlForm struct {
	TempLower         string `form:"temp_lower"`
	TempUpper         string `form:"temp_upper"`
	HumidLower        string `form:"humid_lower"`
	HumidUpper        string `form:"humid_upper"`
	DistanceThreshold string `form:"distance_threshold"`

	TakeOver string `form:"take_over"`
	Heat     string `form:"heat"`
	Fan      string `form:"fan"`
	Humid    string `form:"humid"`
	Servo    string `form:"servo"`

	validator.Validator `form:"-"`
}

func (f *controlForm) thresholds() map[string]string {
	return map[string]string{
		"temp_lower":         f.TempLower,
		"temp_upper":         f.TempUpper,
		"humid_lower":        f.HumidLower,
		"humid_upper":        f.HumidUpper,
		"distance_threshold": f.DistanceThreshold,
	}
}

func (f *controlForm) switches() map[string]string {
	return map[string]string{
		"take_over": f.TakeOver,
		"heat":      f.Heat,
		"fan":       f.Fan,
		"humid":     f.Humid,
		"servo":     f.Servo,
	}
}

func (f *controlForm) validate() {
	empty := true
	for key, v := range f.thresholds() {
		if !validator.NotBlank(v) {
			continue
		}
		empty = false
		f.CheckField(validator.Number(v), key, "This field must be a number")
	}
	for key, v := range f.switches() {
		if v != "" {
			empty = false
		}
		f.CheckField(validator.PermittedValue(v, "", "on", "off"), key, "This field must be on, off or unchanged")
	}
	if empty {
		f.AddNonFieldError("Nothing to send")
	}
}

// payload encodes the validated form as a control message.
func (f *controlForm) payload() ([]byte, error) {
	msg := make(map[string]any)
	for key, v := range f.thresholds() {
		if !validator.NotBlank(v) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, err
		}
		msg[key] = n
	}
	for key, v := range f.switches() {
		if v != "" {
			msg[key] = v == "on"
		}
	}
	return json.Marshal(msg)
}

// latestSnapshot holds the last snapshot published by the hub. update runs on
// the MQTT client's goroutine.
type latestSnapshot struct {
	mu   sync.RWMutex
	snap *bridge.Snapshot
}

func (l *latestSnapshot) update(payload []byte) {
	var s bridge.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return
	}
	l.mu.Lock()
	l.snap = &s
	l.mu.Unlock()
}

func (l *latestSnapshot) get() *bridge.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snap == nil {
		return nil
	}
	s := *l.snap
	return &s
}
