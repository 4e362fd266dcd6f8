package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		mps      float64
		unit     string
		expected float64
	}{
		{"10 m/s to mph", 10, MPH, 22.3694},
		{"10 m/s to kmph", 10, KMPH, 36},
		{"10 m/s to kph", 10, KPH, 36},
		{"10 m/s to mps", 10, MPS, 10},
		{"unknown stays mps", 10, "knots", 10},
		{"walking pace to mph", 1.4, MPH, 3.1317},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConvertSpeed(tt.mps, tt.unit); math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("ConvertSpeed(%v, %s) = %v, want %v", tt.mps, tt.unit, got, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, u := range ValidUnits {
		if err := Validate(u); err != nil {
			t.Errorf("Validate(%q) = %v", u, err)
		}
	}
	for _, u := range []string{"", "MPH", "knots"} {
		if err := Validate(u); err == nil {
			t.Errorf("Validate(%q) should fail", u)
		}
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{MPS: "m/s", MPH: "mph", KMPH: "km/h", KPH: "km/h", "": "m/s"}
	for in, want := range tests {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}
