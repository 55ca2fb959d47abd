package driver

import (
	"sort"
	"strings"
)

// DefaultSensorMap maps observation names to record label patterns.
var DefaultSensorMap = map[string]string{
	"pressure":             "*.NAMain.AbsolutePressure",
	"inTemp":               "*.NAMain.Temperature",
	"inHumidity":           "*.NAMain.Humidity",
	"co2":                  "*.NAMain.CO2",
	"noise":                "*.NAMain.Noise",
	"wifi_status":          "*.NAMain.wifi_status",
	"outTemp":              "*.NAModule1.Temperature",
	"outHumidity":          "*.NAModule1.Humidity",
	"out_rf_status":        "*.NAModule1.rf_status",
	"out_battery_vp":       "*.NAModule1.battery_vp",
	"outTempBatteryStatus": "*.NAModule1.battery_percent",
	"extraTemp1":           "*.NAModule4.Temperature",
	"extraHumid1":          "*.NAModule4.Humidity",
	"extra_rf_status_1":    "*.NAModule4.rf_status",
	"extra_battery_vp_1":   "*.NAModule4.battery_vp",
	"extra1BatteryStatus":  "*.NAModule4.battery_percent",
	"windSpeed":            "*.NAModule2.WindStrength",
	"windDir":              "*.NAModule2.WindAngle",
	"windGust":             "*.NAModule2.GustStrength",
	"windGustDir":          "*.NAModule2.GustAngle",
	"wind_rf_status":       "*.NAModule2.rf_status",
	"wind_battery_vp":      "*.NAModule2.battery_vp",
	"windBatteryStatus":    "*.NAModule2.battery_percent",
	"rain":                 "*.NAModule3.Rain",
	"rain_total":           "*.NAModule3.sum_rain_24",
	"rain_rf_status":       "*.NAModule3.rf_status",
	"rain_battery_vp":      "*.NAModule3.battery_vp",
	"rainBatteryStatus":    "*.NAModule3.battery_percent",
}

// SensorMap returns the default map with overrides applied by name.
func SensorMap(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(DefaultSensorMap)+len(overrides))
	for name, pattern := range DefaultSensorMap {
		out[name] = pattern
	}
	for name, pattern := range overrides {
		out[name] = pattern
	}
	return out
}

// FindMatch returns the first key, in sorted order, that matches pattern.
// Patterns and keys have three dot-separated parts; a "*" part matches any
// non-empty part. Keys of any other shape never match.
func FindMatch(pattern string, keys []string) (string, bool) {
	pparts := strings.Split(pattern, ".")
	if len(pparts) != 3 {
		return "", false
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		kparts := strings.Split(k, ".")
		if len(kparts) != 3 {
			continue
		}
		if partMatch(pparts[0], kparts[0]) &&
			partMatch(pparts[1], kparts[1]) &&
			partMatch(pparts[2], kparts[2]) {
			return k, true
		}
	}
	return "", false
}

func partMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}
	return pattern == "*" && value != ""
}
