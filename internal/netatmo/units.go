package netatmo

import (
	"fmt"
	"math"
)

const (
	InHgPerMbar = 0.0295299830714
	MphToKph    = 1.60934
	MpsToKph    = 3.6
	KnotToKph   = 1.852
	MmToCm      = 0.1
)

// BeaufortToKph maps a beaufort force to the wind speed used for it.
var BeaufortToKph = [13]float64{1, 3, 9, 15, 24, 34, 43, 55, 68, 82, 95, 110, 120}

type converter func(x float64, u Units) (float64, error)

// conversions lists the fields that need unit normalisation. Everything is
// converted to the metric base: °C, mbar, km/h, cm.
var conversions = map[string]converter{
	"Temperature":      ConvertTemperature,
	"AbsolutePressure": ConvertPressure,
	"Pressure":         ConvertPressure,
	"WindStrength":     ConvertSpeed,
	"GustStrength":     ConvertSpeed,
	"Rain":             ConvertRain,
	"sum_rain_24":      ConvertRain,
	"sum_rain_1":       ConvertRain,
}

// ConvertTemperature converts to °C.
func ConvertTemperature(x float64, u Units) (float64, error) {
	if u.Unit == 1 {
		return (x - 32) * 5 / 9, nil
	}
	return x, nil
}

// ConvertPressure converts to mbar.
func ConvertPressure(x float64, u Units) (float64, error) {
	switch u.PressureUnit {
	case 1:
		return x / InHgPerMbar, nil
	case 2:
		return x / (InHgPerMbar * 25.4), nil
	default:
		return x, nil
	}
}

// ConvertSpeed converts to km/h.
func ConvertSpeed(x float64, u Units) (float64, error) {
	switch u.WindUnit {
	case 1:
		return x * MphToKph, nil
	case 2:
		return x * MpsToKph, nil
	case 3:
		force := math.Trunc(x)
		if force != x || force < 0 || force >= float64(len(BeaufortToKph)) {
			return 0, fmt.Errorf("no beaufort force %v", x)
		}
		return BeaufortToKph[int(force)], nil
	case 4:
		return x * KnotToKph, nil
	default:
		return x, nil
	}
}

// ConvertRain converts millimetres to centimetres.
func ConvertRain(x float64, _ Units) (float64, error) {
	return x * MmToCm, nil
}
