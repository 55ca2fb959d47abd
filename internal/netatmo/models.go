package netatmo

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Module types reported by the station API.
const (
	TypeMain    = "NAMain"
	TypeOutdoor = "NAModule1"
	TypeWind    = "NAModule2"
	TypeRain    = "NAModule3"
	TypeIndoor  = "NAModule4"
)

// Units are the administrative unit settings of the account. Values come
// straight from the API: unit 0 metric / 1 imperial, windunit 0 kph / 1 mph /
// 2 m/s / 3 beaufort / 4 knot, pressureunit 0 mbar / 1 inHg / 2 mmHg.
type Units struct {
	Unit         int `json:"unit"`
	WindUnit     int `json:"windunit"`
	PressureUnit int `json:"pressureunit"`
}

// StationData is the body of a getstationsdata response.
type StationData struct {
	User struct {
		Administrative Units `json:"administrative"`
	} `json:"user"`
	Devices []Node `json:"devices"`
}

// Units returns the unit settings needed for normalisation.
func (d *StationData) Units() Units {
	return d.User.Administrative
}

// Node is a device or one of its modules. Fields keeps every top-level
// attribute so metadata can be copied without a fixed schema.
type Node struct {
	ID        string
	Type      string
	Dashboard map[string]any
	Modules   []Node
	Fields    map[string]any
}

// HasDashboard reports whether the node is in contact; a node without a
// dashboard_data block contributes no values.
func (n *Node) HasDashboard() bool {
	return n.Dashboard != nil
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "modules" || k == "dashboard_data" {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = val
	}

	node := Node{Fields: fields}
	node.ID, _ = fields["_id"].(string)
	node.Type, _ = fields["type"].(string)

	if v, ok := raw["dashboard_data"]; ok {
		var dash map[string]any
		if err := json.Unmarshal(v, &dash); err != nil {
			return fmt.Errorf("dashboard_data: %w", err)
		}
		node.Dashboard = dash
	}
	if v, ok := raw["modules"]; ok {
		if err := json.Unmarshal(v, &node.Modules); err != nil {
			return fmt.Errorf("modules: %w", err)
		}
	}

	*n = node
	return nil
}

// MarshalJSON writes the node back in the cloud's shape.
func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Fields)+2)
	for k, v := range n.Fields {
		out[k] = v
	}
	if n.Dashboard != nil {
		out["dashboard_data"] = n.Dashboard
	}
	if n.Modules != nil {
		out["modules"] = n.Modules
	}
	return json.Marshal(out)
}

// Series is a fine-grained measurement series: epoch second to values.
type Series map[int64][]float64

// Timestamps returns the series keys, newest first.
func (s Series) Timestamps() []int64 {
	ts := make([]int64, 0, len(s))
	for t := range s {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] > ts[j] })
	return ts
}

// decodeSeries accepts the getmeasure body, which is an object keyed by
// epoch seconds, or an empty array when the window holds no samples.
func decodeSeries(body json.RawMessage) (Series, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "null" || trimmed == "[]" {
		return Series{}, nil
	}

	var raw map[string][]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode measurements: %w", err)
	}

	series := make(Series, len(raw))
	for k, v := range raw {
		ts, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid measurement timestamp %q: %w", k, err)
		}
		series[ts] = v
	}
	return series, nil
}

// FlatRecord maps "id.type.field" labels to scalar values (float64 or
// string).
type FlatRecord map[string]any

// Label builds the fully-qualified key for a field of a node.
func Label(id, typ, field string) string {
	return id + "." + typ + "." + field
}

// Float returns the numeric value under label.
func (r FlatRecord) Float(label string) (float64, bool) {
	f, ok := r[label].(float64)
	return f, ok
}
