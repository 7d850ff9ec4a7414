package protocol

import (
	"errors"
	"reflect"
	"testing"
)

// TestRoundTrip covers every message that has a wire form. Empty telemetry
// does not and is covered by TestEmptyTelemetryHasNoWireForm.
func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		NewTelemetry(Telemetry{Temperature: Float(18), Humidity: Float(50), Distance: Float(20)}),
		NewTelemetry(Telemetry{Temperature: Float(-3.25)}),
		NewTelemetry(Telemetry{Humidity: Float(71.4)}),
		NewTelemetry(Telemetry{Distance: Float(399.9)}),
		NewTelemetry(Telemetry{Temperature: Float(21.1), Distance: Float(2)}),
		NewCommand(Heat, true),
		NewCommand(Door, false),
		NewAck(Humidifier, true),
		NewAck(Fan, false),
		NewProbeAck(),
		NewStatus(Status{Heat: true, Door: true}),
		NewStatus(Status{}),
		NewTest(),
		NewError("Error in main loop: i2c timeout"),
	}
	for _, m := range msgs {
		raw := Encode(m)
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip %q: got %+v, want %+v", raw, got, m)
		}
	}
}

func TestEmptyTelemetryHasNoWireForm(t *testing.T) {
	raw := Encode(NewTelemetry(Telemetry{}))
	if len(raw) != 0 {
		t.Fatalf("expected empty payload, got %q", raw)
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Kind != KindUnknown {
		t.Fatalf("empty payload must not decode as telemetry, got %s", m.Kind)
	}
}

func TestEncodeWireForms(t *testing.T) {
	cases := map[string]Message{
		"Temp:18°C | Humidity:50%":           NewTelemetry(Telemetry{Temperature: Float(18), Humidity: Float(50)}),
		"servo:1":                            NewCommand(Door, true),
		"ACK:humid:0":                        NewAck(Humidifier, false),
		"ACK:TEST":                           NewProbeAck(),
		"STATUS:heat:1,fan:0,humid:1,servo:0": NewStatus(Status{Heat: true, Humidifier: true}),
		"TEST":                               NewTest(),
		"ERROR:boom":                         NewError(" boom "),
	}
	for want, m := range cases {
		if got := string(Encode(m)); got != want {
			t.Fatalf("encode %+v: got %q, want %q", m, got, want)
		}
	}
}

func TestDecodeSensorFirmwareFormat(t *testing.T) {
	m, err := Decode([]byte("Temp: 21.5°C, Humidity: 48.2% | Distance: 12.0cm\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Kind != KindTelemetry {
		t.Fatalf("expected telemetry, got %s", m.Kind)
	}
	tel := m.Telemetry
	if tel.Temperature == nil || *tel.Temperature != 21.5 {
		t.Fatalf("unexpected temperature %v", tel.Temperature)
	}
	if tel.Humidity == nil || *tel.Humidity != 48.2 {
		t.Fatalf("unexpected humidity %v", tel.Humidity)
	}
	if tel.Distance == nil || *tel.Distance != 12 {
		t.Fatalf("unexpected distance %v", tel.Distance)
	}
}

func TestDecodeMissingUnits(t *testing.T) {
	m, err := Decode([]byte("Temp:19.5, Humidity:40|Distance:7"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tel := m.Telemetry
	if *tel.Temperature != 19.5 || *tel.Humidity != 40 || *tel.Distance != 7 {
		t.Fatalf("unexpected telemetry %+v", tel)
	}
}

func TestDecodeUnusableFieldsStayAbsent(t *testing.T) {
	m, err := Decode([]byte("Temp/Humidity: Sensor error | Distance: 15.5cm"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Telemetry.Temperature != nil || m.Telemetry.Humidity != nil {
		t.Fatalf("expected absent temperature and humidity, got %+v", m.Telemetry)
	}
	if m.Telemetry.Distance == nil || *m.Telemetry.Distance != 15.5 {
		t.Fatalf("unexpected distance %v", m.Telemetry.Distance)
	}

	m, err = Decode([]byte("Temp: 20.0°C, Humidity: 45.0% | Distance: Out of range"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Telemetry.Distance != nil {
		t.Fatalf("out of range distance must be absent, got %v", *m.Telemetry.Distance)
	}
}

func TestDecodeTelemetryWithoutReadings(t *testing.T) {
	m, err := Decode([]byte("Temp/Humidity: No sensor | Distance: Read error"))
	if !errors.Is(err, ErrNoTelemetry) {
		t.Fatalf("expected ErrNoTelemetry, got %v", err)
	}
	if m.Kind != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", m.Kind)
	}
}

func TestDecodeCommandStates(t *testing.T) {
	for raw, want := range map[string]bool{
		"heat:1": true, "heat:0": false, "fan:ON": true, "fan:off": false,
		"humid:True": true, "servo:FALSE": false, "door:on": true,
	} {
		m, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if m.Kind != KindCommand || m.On != want {
			t.Fatalf("decode %q: got %+v", raw, m)
		}
	}
}

func TestDecodeRejectsUnknownChannel(t *testing.T) {
	_, err := Decode([]byte("lights:1"))
	var de *DecodeError
	if !errors.As(err, &de) || !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected unknown channel decode error, got %v", err)
	}
	if _, err := Decode([]byte("heat:maybe")); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected bad state error, got %v", err)
	}
}

func TestDecodeStatusRequiresAllChannels(t *testing.T) {
	if _, err := Decode([]byte("STATUS:heat:1,fan:0")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed status, got %v", err)
	}
}

func TestDecodeUnknownAndGarbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("   \n"),
		[]byte("Controller starting..."),
		{0xff, 0xfe, 0x00},
		[]byte("ACK:"),
		[]byte("ACK:heat"),
		[]byte("STATUS:"),
		[]byte("Temp:"),
		[]byte("Temp:°C"),
		[]byte(":"),
		[]byte("|,|"),
		[]byte("Distance:NaN"),
	}
	for _, in := range inputs {
		m, _ := Decode(in)
		if m.Kind != KindUnknown {
			t.Fatalf("decode %q: expected unknown, got %s", in, m.Kind)
		}
	}
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte("Temp:18°C | Humidity:50% | Distance:20cm"))
	f.Add([]byte("STATUS:heat:1,fan:0,humid:0,servo:1"))
	f.Add([]byte("ACK:servo:1"))
	f.Fuzz(func(t *testing.T, in []byte) {
		m, err := Decode(in)
		if err != nil && m.Kind != KindUnknown {
			t.Fatalf("error %v returned with kind %s", err, m.Kind)
		}
	})
}
