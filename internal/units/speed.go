// Package units converts agent speeds for display. Speeds are simulated in
// metres per second.
package units

import (
	"fmt"
	"slices"
	"strings"
)

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists the accepted unit names.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// Validate returns an error naming the accepted units unless unit is one
// of them.
func Validate(unit string) error {
	if slices.Contains(ValidUnits, unit) {
		return nil
	}
	return fmt.Errorf("unknown speed unit %q, want one of %s", unit, strings.Join(ValidUnits, ", "))
}

// ConvertSpeed converts metres per second to unit. Unknown units return
// the input unchanged.
func ConvertSpeed(mps float64, unit string) float64 {
	switch unit {
	case MPH:
		return mps * 2.2369362920544
	case KMPH, KPH:
		return mps * 3.6
	default:
		return mps
	}
}

// Label is the short form printed after a converted value.
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
