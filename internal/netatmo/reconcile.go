package netatmo

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

const (
	fieldTime = "time_utc"
	fieldRain = "Rain"
)

// metaItems are copied from every device and module.
var metaItems = []string{
	"wifi_status", "rf_status", "battery_vp", "co2_calibrating",
	"_id", "module_name", "last_status_store", "last_seen",
	"battery_percent",
	"firmware", "last_setup", "last_upgrade", "date_setup",
}

// dashboardItems are copied from every dashboard_data block.
var dashboardItems = []string{
	"Temperature", "Humidity", "AbsolutePressure", "Pressure",
	"CO2", "Noise", "Rain", "sum_rain_24", "sum_rain_1",
	"WindStrength", "WindAngle", "GustStrength", "GustAngle",
}

// RainCandidate is a rain module that reported a reading this cycle.
type RainCandidate struct {
	StationID   string
	ModuleID    string
	ModuleType  string
	ReadingTime int64
}

// RainState tracks what has been emitted for one station's rain module.
type RainState struct {
	ModuleID   string
	ModuleType string
	// LastPosted is the dashboard reading time emitted most recently.
	LastPosted int64
	// LastAdded is the series timestamp most recently added as a correction.
	LastAdded int64
}

// RainLabel is the record key of the module's rain amount.
func (s RainState) RainLabel() string {
	return Label(s.ModuleID, s.ModuleType, fieldRain)
}

// Reconciler flattens station snapshots and corrects rain amounts across
// cycles. It is owned by a single worker and is not safe for concurrent use.
type Reconciler struct {
	logger *zap.Logger
	states map[string]*RainState
}

// NewReconciler returns a reconciler with no tracked stations.
func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		logger: logger.Named("reconcile"),
		states: make(map[string]*RainState),
	}
}

// Flatten merges every device and module of data into one record and lists
// the rain modules whose dashboard carried a reading time.
func (r *Reconciler) Flatten(data *StationData) (FlatRecord, []RainCandidate) {
	record := make(FlatRecord)
	var candidates []RainCandidate
	if data == nil {
		return record, nil
	}
	units := data.Units()

	for i := range data.Devices {
		d := &data.Devices[i]
		r.merge(record, d, units)

		for j := range d.Modules {
			m := &d.Modules[j]
			values := r.merge(record, m, units)
			if m.Type != TypeRain {
				continue
			}
			ts, ok := values[fieldTime].(float64)
			if !ok {
				continue
			}
			candidates = append(candidates, RainCandidate{
				StationID:   d.ID,
				ModuleID:    m.ID,
				ModuleType:  m.Type,
				ReadingTime: int64(ts),
			})
		}
	}
	return record, candidates
}

func (r *Reconciler) merge(record FlatRecord, n *Node, units Units) map[string]any {
	values := r.extract(n, units)
	for k, v := range values {
		record[Label(n.ID, n.Type, k)] = v
	}
	return values
}

// extract pulls the allow-listed values of one node and normalises units.
func (r *Reconciler) extract(n *Node, units Units) map[string]any {
	values := make(map[string]any)
	if !n.HasDashboard() {
		return values
	}

	if v, ok := n.Dashboard[fieldTime]; ok {
		values[fieldTime] = v
	}
	for _, k := range metaItems {
		if v, ok := n.Fields[k]; ok {
			values[k] = v
		}
	}
	for _, k := range dashboardItems {
		if v, ok := n.Dashboard[k]; ok {
			values[k] = v
		}
	}

	for k, v := range values {
		cvt, ok := conversions[k]
		if !ok {
			continue
		}
		converted, err := convert(cvt, v, units)
		if err != nil {
			r.logger.Error("unit conversion failed",
				zap.String("node", n.ID),
				zap.String("field", k),
				zap.Any("value", v),
				zap.Error(err))
			delete(values, k)
			continue
		}
		values[k] = converted
	}
	return values
}

func convert(cvt converter, v any, units Units) (float64, error) {
	x, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
	return cvt(x, units)
}

// TrackCandidate starts tracking the rain module of stationID the first time
// it is seen.
func (r *Reconciler) TrackCandidate(stationID string, c RainCandidate) {
	if _, ok := r.states[stationID]; ok {
		return
	}
	r.states[stationID] = &RainState{ModuleID: c.ModuleID, ModuleType: c.ModuleType}
	r.logger.Info("found rain module for correction",
		zap.String("station", stationID),
		zap.String("module", c.ModuleID))
}

// Deduplicate zeroes the rain amount of candidate c when its reading time
// was already emitted in an earlier cycle, then records it as posted. The
// zeroed label is the candidate's own, which need not be the tracked module
// when a station reports more than one rain gauge.
func (r *Reconciler) Deduplicate(stationID string, c RainCandidate, record FlatRecord) {
	st, ok := r.states[stationID]
	if !ok {
		return
	}
	if st.LastPosted == c.ReadingTime {
		record[Label(c.ModuleID, c.ModuleType, "Rain")] = 0.0
		r.logger.Debug("duplicate rain reading, set to 0",
			zap.String("station", stationID),
			zap.String("module", c.ModuleID),
			zap.Int64("time_utc", c.ReadingTime))
	}
	st.LastPosted = c.ReadingTime
}

// Correct adds the rain increment that the fine-grained series captured but
// the dashboard reading missed. It reports whether record was changed. A
// series that is too sparse or not yet consistent with the dashboard is
// skipped.
func (r *Reconciler) Correct(stationID string, series Series, record FlatRecord) bool {
	st, ok := r.states[stationID]
	if !ok {
		return false
	}

	ts := series.Timestamps()
	if len(ts) < 2 || len(series[ts[1]]) == 0 {
		r.logger.Debug("lacking data for rain fix, skipping", zap.String("station", stationID))
		return false
	}
	if ts[0] != st.LastPosted {
		r.logger.Debug("measurements not in step with dashboard yet",
			zap.String("station", stationID),
			zap.Int64("newest", ts[0]),
			zap.Int64("last_posted", st.LastPosted))
		return false
	}
	if ts[1] == st.LastAdded {
		return false
	}

	label := st.RainLabel()
	current, _ := record.Float(label)
	record[label] = current + series[ts[1]][0]*MmToCm
	st.LastAdded = ts[1]
	r.logger.Debug("corrected rain amount", zap.String("label", label), zap.Int64("sample", ts[1]))
	return true
}

// State returns a copy of the tracking state of stationID.
func (r *Reconciler) State(stationID string) (RainState, bool) {
	st, ok := r.states[stationID]
	if !ok {
		return RainState{}, false
	}
	return *st, true
}

// Stations lists the tracked station ids in sorted order.
func (r *Reconciler) Stations() []string {
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies all tracking state.
func (r *Reconciler) Snapshot() map[string]RainState {
	out := make(map[string]RainState, len(r.states))
	for id, st := range r.states {
		out[id] = *st
	}
	return out
}

// Restore replaces all tracking state with snap.
func (r *Reconciler) Restore(snap map[string]RainState) {
	r.states = make(map[string]*RainState, len(snap))
	for id, st := range snap {
		st := st
		r.states[id] = &st
	}
}
