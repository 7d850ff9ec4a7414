package node

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/protocol"
)

var hubID = link.PeerID{0x14, 0x2b, 0x2f, 0xaf, 0xe4, 0x98}

type fakeTransport struct {
	inbox   []link.Datagram
	sent    []string
	events  []string
	sendErr error
}

func (f *fakeTransport) Send(_ link.PeerID, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, string(payload))
	return nil
}

func (f *fakeTransport) Receive(time.Duration) (link.Datagram, bool, error) {
	if len(f.inbox) == 0 {
		return link.Datagram{}, false, nil
	}
	d := f.inbox[0]
	f.inbox = f.inbox[1:]
	return d, true, nil
}

func (f *fakeTransport) AddPeer(link.PeerID, int) error {
	f.events = append(f.events, "add")
	return nil
}

func (f *fakeTransport) RemovePeer(link.PeerID) error {
	f.events = append(f.events, "remove")
	return nil
}

type climateFunc func() (float64, float64, error)

func (c climateFunc) Read() (float64, float64, error) { return c() }

type rangeFunc func() (float64, error)

func (r rangeFunc) Distance() (float64, error) { return r() }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(time.Duration) {}

func TestSensorTickSendsTelemetry(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSensor(SensorConfig{Hub: hubID, ReadAttempts: 3, Sleep: noSleep}, tr,
		climateFunc(func() (float64, float64, error) { return 21.5, 48, nil }),
		rangeFunc(func() (float64, error) { return 12.25, nil }),
		discard())

	s.Tick()

	if len(tr.sent) != 1 || tr.sent[0] != "Temp:21.5°C | Humidity:48% | Distance:12.25cm" {
		t.Fatalf("unexpected payload %v", tr.sent)
	}
	msg, err := protocol.Decode([]byte(tr.sent[0]))
	if err != nil || msg.Kind != protocol.KindTelemetry {
		t.Fatalf("hub must decode sensor payload: %v %v", msg.Kind, err)
	}
}

func TestSensorDropsOutOfRangeDistance(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSensor(SensorConfig{Hub: hubID, Sleep: noSleep}, tr,
		climateFunc(func() (float64, float64, error) { return 19, 55, nil }),
		rangeFunc(func() (float64, error) { return 512, nil }),
		discard())

	s.Tick()

	if len(tr.sent) != 1 || strings.Contains(tr.sent[0], "Distance") {
		t.Fatalf("out-of-range distance must be omitted, got %v", tr.sent)
	}
}

func TestSensorRetriesClimateRead(t *testing.T) {
	tr := &fakeTransport{}
	calls := 0
	s := NewSensor(SensorConfig{Hub: hubID, ReadAttempts: 3, Sleep: noSleep}, tr,
		climateFunc(func() (float64, float64, error) {
			calls++
			if calls < 3 {
				return 0, 0, errors.New("crc mismatch")
			}
			return 20, 50, nil
		}),
		nil, discard())

	s.Tick()

	if calls != 3 {
		t.Fatalf("expected 3 read attempts, got %d", calls)
	}
	if len(tr.sent) != 1 || !strings.HasPrefix(tr.sent[0], "Temp:20°C") {
		t.Fatalf("unexpected payload %v", tr.sent)
	}
}

func TestSensorReportsErrorWithoutReadings(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSensor(SensorConfig{Hub: hubID, ReadAttempts: 1, Sleep: noSleep}, tr,
		climateFunc(func() (float64, float64, error) { return 0, 0, errors.New("i2c timeout") }),
		nil, discard())

	s.Tick()

	if len(tr.sent) != 1 || !strings.HasPrefix(tr.sent[0], "ERROR:") {
		t.Fatalf("expected ERROR message, got %v", tr.sent)
	}
}

func TestSensorReaddsHubAfterSendFailures(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("peer unreachable")}
	s := NewSensor(SensorConfig{Hub: hubID, MaxSendFailures: 3, Sleep: noSleep}, tr,
		climateFunc(func() (float64, float64, error) { return 20, 50, nil }),
		nil, discard())

	s.Tick()
	s.Tick()
	if len(tr.events) != 0 {
		t.Fatalf("refresh too early: %v", tr.events)
	}
	s.Tick()
	if len(tr.events) != 2 || tr.events[0] != "remove" || tr.events[1] != "add" {
		t.Fatalf("expected remove+add after 3 failures, got %v", tr.events)
	}
}

type recordingOutputs struct {
	applied []string
	fail    protocol.Channel
	failErr error
}

func (r *recordingOutputs) Apply(ch protocol.Channel, on bool) error {
	if r.failErr != nil && ch == r.fail {
		return r.failErr
	}
	state := "0"
	if on {
		state = "1"
	}
	r.applied = append(r.applied, ch.String()+"="+state)
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time        { return c.now }
func (c *clock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newActuator(tr *fakeTransport, out Outputs, c *clock) *Actuator {
	return NewActuator(ActuatorConfig{
		Hub:            hubID,
		StatusInterval: 10 * time.Second,
		HubTimeout:     30 * time.Second,
		RefreshPause:   200 * time.Millisecond,
		Now:            c.Now,
		Sleep:          c.Sleep,
	}, tr, out, discard())
}

func TestActuatorAppliesAndAcks(t *testing.T) {
	tr := &fakeTransport{}
	out := &recordingOutputs{}
	a := newActuator(tr, out, &clock{now: time.Unix(0, 0)})

	if err := a.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(out.applied) != 4 {
		t.Fatalf("reset must drive all four outputs off, got %v", out.applied)
	}

	tr.inbox = []link.Datagram{
		{From: hubID, Payload: []byte("heat:1")},
		{From: hubID, Payload: []byte("TEST")},
		{From: hubID, Payload: []byte("lamp:1")},
	}
	a.Step()
	a.Step()
	a.Step()

	want := []string{"ACK:heat:1", "ACK:TEST"}
	if len(tr.sent) != 3 || tr.sent[0] != want[0] || tr.sent[1] != want[1] || !strings.HasPrefix(tr.sent[2], "ERROR:") {
		t.Fatalf("unexpected replies %v", tr.sent)
	}
	if !a.Status().Heat {
		t.Fatalf("expected heat on")
	}
}

func TestActuatorOutputFailureIsNotAcked(t *testing.T) {
	tr := &fakeTransport{}
	out := &recordingOutputs{fail: protocol.Door, failErr: errors.New("pwm busy")}
	a := newActuator(tr, out, &clock{now: time.Unix(0, 0)})

	tr.inbox = []link.Datagram{{From: hubID, Payload: []byte("servo:1")}}
	a.Step()

	if a.Status().Door {
		t.Fatalf("failed output must not be reported as applied")
	}
	if len(tr.sent) != 1 || !strings.HasPrefix(tr.sent[0], "ERROR:") {
		t.Fatalf("expected ERROR reply, got %v", tr.sent)
	}
}

func TestActuatorStatusAndHubTimeout(t *testing.T) {
	tr := &fakeTransport{}
	c := &clock{now: time.Unix(0, 0)}
	a := newActuator(tr, &recordingOutputs{}, c)

	c.now = c.now.Add(10 * time.Second)
	a.Step()
	if len(tr.sent) != 1 || tr.sent[0] != "STATUS:heat:0,fan:0,humid:0,servo:0" {
		t.Fatalf("expected periodic status, got %v", tr.sent)
	}

	c.now = c.now.Add(20 * time.Second)
	a.Step()
	if len(tr.events) != 2 {
		t.Fatalf("expected hub peer refresh after 30s silence, got %v", tr.events)
	}
	a.Step()
	if len(tr.events) != 2 {
		t.Fatalf("refresh must not repeat immediately, got %v", tr.events)
	}
}
