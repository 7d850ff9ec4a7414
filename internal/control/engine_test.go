package control

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"furitingoasis/wiredin/internal/protocol"
)

var testTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func TestEvaluateScenarios(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		name   string
		sample Sample
		belief Belief
		want   []Transition
	}{
		{
			name:   "cold enclosure",
			sample: Sample{Temperature: f(18), Humidity: f(50), Distance: f(20)},
			want:   []Transition{{protocol.Heat, true}},
		},
		{
			name:   "hot humid with object near door",
			sample: Sample{Temperature: f(30), Humidity: f(70), Distance: f(5)},
			want:   []Transition{{protocol.Fan, true}, {protocol.Door, true}},
		},
		{
			name:   "dry air",
			sample: Sample{Temperature: f(22), Humidity: f(20)},
			want:   []Transition{{protocol.Humidifier, true}},
		},
		{
			name:   "everything back in range turns outputs off",
			sample: Sample{Temperature: f(22), Humidity: f(50), Distance: f(30)},
			belief: Belief{Heat: true, Fan: true, Humidifier: true, Door: true},
			want: []Transition{
				{protocol.Heat, false}, {protocol.Fan, false},
				{protocol.Humidifier, false}, {protocol.Door, false},
			},
		},
		{
			name:   "fan from humidity alone when temperature absent",
			sample: Sample{Humidity: f(80)},
			want:   []Transition{{protocol.Fan, true}},
		},
		{
			name:   "fan from temperature alone when humidity absent",
			sample: Sample{Temperature: f(26)},
			want:   []Transition{{protocol.Fan, true}},
		},
		{
			name:   "distance only touches the door",
			sample: Sample{Distance: f(3)},
			belief: Belief{Heat: true, Fan: true},
			want:   []Transition{{protocol.Door, true}},
		},
		{
			name:   "boundaries are exclusive",
			sample: Sample{Temperature: f(20), Humidity: f(35), Distance: f(8)},
			want:   nil,
		},
	}

	for _, tc := range cases {
		got := Evaluate(tc.sample, th, tc.belief)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluateIsEdgeTriggered(t *testing.T) {
	th := DefaultThresholds()
	sample := Sample{Temperature: f(30), Humidity: f(70), Distance: f(5)}

	var b Belief
	first := Evaluate(sample, th, b)
	if len(first) != 2 {
		t.Fatalf("expected two transitions, got %+v", first)
	}
	for _, tr := range first {
		b.Commit(tr.Channel, tr.On)
	}
	if again := Evaluate(sample, th, b); len(again) != 0 {
		t.Fatalf("expected no transitions for repeated sample, got %+v", again)
	}
}

func TestEvaluateOverrideSuspendsControl(t *testing.T) {
	samples := []Sample{
		{Temperature: f(-40), Humidity: f(0), Distance: f(2)},
		{Temperature: f(80), Humidity: f(100), Distance: f(400)},
		{},
	}
	for _, s := range samples {
		if got := Evaluate(s, DefaultThresholds(), Belief{Override: true}); len(got) != 0 {
			t.Fatalf("expected no transitions under override, got %+v", got)
		}
	}
}

func TestEvaluateInvertedThresholds(t *testing.T) {
	th := Thresholds{TempLower: 30, TempUpper: 10, HumidLower: 80, HumidUpper: 20, DistanceThreshold: 8}
	got := Evaluate(Sample{Temperature: f(20), Humidity: f(50)}, th, Belief{})
	want := []Transition{{protocol.Heat, true}, {protocol.Fan, true}, {protocol.Humidifier, true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNewSample(t *testing.T) {
	if _, err := NewSample(protocol.Telemetry{}, testTime); !errors.Is(err, ErrSensorUnavailable) {
		t.Fatalf("expected ErrSensorUnavailable, got %v", err)
	}
	s, err := NewSample(protocol.Telemetry{Temperature: f(21)}, testTime)
	if err != nil {
		t.Fatalf("new sample: %v", err)
	}
	s = s.WithDistance(f(12))
	if s.Distance == nil || *s.Distance != 12 {
		t.Fatalf("expected last-known distance to be carried forward")
	}
	s = Sample{Distance: f(4)}.WithDistance(f(12))
	if *s.Distance != 4 {
		t.Fatalf("fresh distance must win over last-known")
	}
}

func TestBeliefDiverged(t *testing.T) {
	b := Belief{Heat: true, Door: true}
	got := b.Diverged(protocol.Status{Heat: true, Fan: true})
	want := []protocol.Channel{protocol.Fan, protocol.Door}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
