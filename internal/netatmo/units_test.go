package netatmo

import "testing"

func TestBeaufortTable(t *testing.T) {
	want := []float64{1, 3, 9, 15, 24, 34, 43, 55, 68, 82, 95, 110, 120}
	for force, kph := range want {
		got, err := ConvertSpeed(float64(force), Units{WindUnit: 3})
		if err != nil {
			t.Fatalf("force %d: unexpected error: %v", force, err)
		}
		if got != kph {
			t.Fatalf("force %d: expected %v km/h, got %v", force, kph, got)
		}
	}

	for _, bad := range []float64{-1, 13, 2.5} {
		if _, err := ConvertSpeed(bad, Units{WindUnit: 3}); err == nil {
			t.Fatalf("expected error for beaufort %v", bad)
		}
	}
}

func TestConversionFactors(t *testing.T) {
	tests := []struct {
		name  string
		cvt   converter
		in    float64
		units Units
		want  float64
	}{
		{"kph", ConvertSpeed, 10, Units{WindUnit: 0}, 10},
		{"mph", ConvertSpeed, 10, Units{WindUnit: 1}, 16.0934},
		{"m/s", ConvertSpeed, 10, Units{WindUnit: 2}, 36},
		{"knot", ConvertSpeed, 10, Units{WindUnit: 4}, 18.52},
		{"mbar", ConvertPressure, 1013, Units{PressureUnit: 0}, 1013},
		{"inHg", ConvertPressure, 29.92, Units{PressureUnit: 1}, 29.92 / InHgPerMbar},
		{"mmHg", ConvertPressure, 760, Units{PressureUnit: 2}, 760 / (InHgPerMbar * 25.4)},
		{"celsius", ConvertTemperature, 21.5, Units{Unit: 0}, 21.5},
		{"fahrenheit", ConvertTemperature, 212, Units{Unit: 1}, 100},
		{"rain", ConvertRain, 2.5, Units{}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cvt(tt.in, tt.units)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !approx(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBaseUnitsAreIdempotent(t *testing.T) {
	base := Units{}
	for _, cvt := range []converter{ConvertSpeed, ConvertPressure, ConvertTemperature} {
		x := 17.25
		for i := 0; i < 3; i++ {
			var err error
			x, err = cvt(x, base)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if x != 17.25 {
			t.Fatalf("base unit conversion changed value to %v", x)
		}
	}
}

func TestMillibarsFromInHg(t *testing.T) {
	got, _ := ConvertPressure(29.92, Units{PressureUnit: 1})
	if got < 1013 || got > 1014 {
		t.Fatalf("expected about 1013 mbar, got %v", got)
	}
}
