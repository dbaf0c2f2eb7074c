package serialmux

import (
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N", ReadTimeout: 100 * time.Millisecond}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalize_ExplicitValues(t *testing.T) {
	in := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E", ReadTimeout: time.Second}
	got, err := in.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got != in {
		t.Errorf("Normalize() = %+v, want %+v", got, in)
	}
}

func TestPortOptions_Normalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "X"}},
		{"negative timeout", PortOptions{ReadTimeout: -time.Millisecond}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.opts.Normalize(); err == nil {
				t.Errorf("Normalize(%+v) expected error", tc.opts)
			}
		})
	}
}

func TestPortOptions_Normalize_ParityVariations(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"n", "N"},
		{"NONE", "N"},
		{"even", "E"},
		{"O", "O"},
		{"odd", "O"},
		{"  e  ", "E"},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := PortOptions{Parity: tc.input}.Normalize()
			if err != nil {
				t.Fatalf("Normalize() with parity %q: %v", tc.input, err)
			}
			if got.Parity != tc.want {
				t.Errorf("parity %q normalised to %q, want %q", tc.input, got.Parity, tc.want)
			}
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: 115200, Parity: "none"}) {
		t.Error("defaults should equal explicit defaults")
	}
	if (PortOptions{BaudRate: 9600}).Equal(PortOptions{BaudRate: 115200}) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{Parity: "X"}).Equal(PortOptions{Parity: "X"}) {
		t.Error("invalid options are never equal")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 {
		t.Errorf("mode = %+v", mode)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("StopBits = %v, want OneStopBit", mode.StopBits)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("Parity = %v, want NoParity", mode.Parity)
	}

	mode, err = PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.StopBits != serial.TwoStopBits || mode.Parity != serial.OddParity {
		t.Errorf("mode = %+v", mode)
	}

	if _, err := (PortOptions{DataBits: 12}).SerialMode(); err == nil {
		t.Error("expected error for invalid options")
	}
}

func TestApplyReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()
	if err := applyReadTimeout(port, 250*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if port.ReadTimeout != 250*time.Millisecond {
		t.Errorf("ReadTimeout = %s", port.ReadTimeout)
	}

	// ports without timeout support are left alone
	if err := applyReadTimeout(&emptyThen{}, time.Second); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewRealSerialMux_MissingDevice(t *testing.T) {
	if _, err := NewRealSerialMux("/dev/does-not-exist-gesture", PortOptions{}); err == nil {
		t.Error("expected error opening a missing device")
	}
	if _, err := NewRealSerialMux("/dev/null", PortOptions{Parity: "Q"}); err == nil {
		t.Error("expected option validation error")
	}
}
