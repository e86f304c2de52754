// Package engine turns a batch of live vehicle reports into a Snapshot of estimated positions.
package engine

import (
	"log"
	"time"

	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
	"github.com/OpenTransitTools/traintracker/business/interpolate"
	"github.com/OpenTransitTools/traintracker/business/schedule"
	"github.com/OpenTransitTools/traintracker/business/tripmatch"
)

// FeedShape identifies the kind of time signal a live feed provides
type FeedShape int

const (
	// ScheduleRelative reports carry anchor stations and a delay against the schedule
	ScheduleRelative FeedShape = iota + 1
	// AbsoluteTimestamp reports carry a trip id and the time of the observation
	AbsoluteTimestamp
)

func (s FeedShape) String() string {
	switch s {
	case ScheduleRelative:
		return "schedule-relative"
	case AbsoluteTimestamp:
		return "absolute-timestamp"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s FeedShape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Report is a single live vehicle report after normalization by a feed client.
// FromStation, ToStation and DelaySeconds are used by ScheduleRelative feeds, TimestampEpoch by AbsoluteTimestamp
// feeds. A zero TimestampEpoch means the report time is the cycle time
type Report struct {
	ForeignTripId  string
	FromStation    string
	ToStation      string
	DelaySeconds   int
	TimestampEpoch int64
}

// CycleStats counts what happened to the reports of one cycle.
// Matched vehicles were interpolated mid segment, Fallback vehicles were held at a stop, Unmatched reports
// produced no position and Skipped reports lacked the fields their feed shape requires
type CycleStats struct {
	Reports       int            `json:"reports"`
	Matched       int            `json:"matched"`
	Fallback      int            `json:"fallback"`
	Unmatched     int            `json:"unmatched"`
	Skipped       int            `json:"skipped"`
	ClampedDelays int            `json:"clamped_delays"`
	Reasons       map[string]int `json:"reasons"`
}

// Observer receives the outcome of every cycle
type Observer interface {
	CycleCompleted(snapshot *Snapshot)
}

// Engine correlates and interpolates reports of one FeedShape.
// Run must be called from a single goroutine, readers use the SnapshotStore
type Engine struct {
	log          *log.Logger
	shape        FeedShape
	index        *schedule.Index
	stations     tripmatch.StopResolver
	correlator   *tripmatch.Correlator
	interpolator *interpolate.Interpolator
	clock        gtfs.ServiceClock
	store        *SnapshotStore
	observers    []Observer
	seq          uint64
}

// New creates an Engine. stations maps foreign station ids to static stop ids
func New(log *log.Logger,
	shape FeedShape,
	index *schedule.Index,
	stations tripmatch.StopResolver,
	clock gtfs.ServiceClock,
	store *SnapshotStore,
	observers ...Observer) *Engine {
	return &Engine{
		log:          log,
		shape:        shape,
		index:        index,
		stations:     stations,
		correlator:   tripmatch.New(index, stations),
		interpolator: interpolate.New(log, index),
		clock:        clock,
		store:        store,
		observers:    observers,
	}
}

// Correlator exposes the engine's trip correlator
func (e *Engine) Correlator() *tripmatch.Correlator {
	return e.correlator
}

// Run processes one cycle of reports observed at now, publishes the resulting Snapshot and notifies observers
func (e *Engine) Run(now time.Time, reports []Report) *Snapshot {
	daySeconds, serviceStart := e.clock.DaySeconds(now)
	e.seq++
	snapshot := Snapshot{
		Seq:                  e.seq,
		Timestamp:            now.Unix(),
		Shape:                e.shape,
		ServiceDayStartEpoch: serviceStart,
		CurrentTimeSec:       daySeconds,
		Vehicles:             make([]VehiclePosition, 0, len(reports)),
		Stats: CycleStats{
			Reports: len(reports),
			Reasons: make(map[string]int),
		},
	}
	e.correlator.Prune(daySeconds)

	for _, report := range reports {
		var vp VehiclePosition
		var ok bool
		switch e.shape {
		case ScheduleRelative:
			vp, ok = e.scheduleRelative(report, daySeconds, serviceStart, &snapshot.Stats)
		case AbsoluteTimestamp:
			vp, ok = e.absoluteTimestamp(report, now, &snapshot.Stats)
		}
		if ok {
			snapshot.Vehicles = append(snapshot.Vehicles, vp)
		}
	}

	if e.store != nil {
		e.store.Publish(&snapshot)
	}
	for _, observer := range e.observers {
		observer.CycleCompleted(&snapshot)
	}
	return &snapshot
}

// scheduleRelative positions a report that carries anchor stations and a delay
func (e *Engine) scheduleRelative(report Report,
	daySeconds int,
	serviceStart int64,
	stats *CycleStats) (VehiclePosition, bool) {

	if len(report.ForeignTripId) == 0 || len(report.FromStation) == 0 || len(report.ToStation) == 0 {
		stats.Skipped++
		return VehiclePosition{}, false
	}
	match := e.correlator.Resolve(tripmatch.Request{
		ForeignTripId: report.ForeignTripId,
		DaySeconds:    daySeconds,
		Anchors:       &tripmatch.Anchors{From: report.FromStation, To: report.ToStation},
	})
	stats.Reasons[string(match.Reason)]++
	if _, clamped := interpolate.ClampDelay(report.DelaySeconds); clamped {
		stats.ClampedDelays++
	}

	var trip *schedule.Trip
	if match.Found() {
		trip, _ = e.index.Trip(match.StaticTripId)
	}
	fromStop, _ := e.stations.StaticStopId(report.FromStation)
	toStop, _ := e.stations.StaticStopId(report.ToStation)
	position, ok := e.interpolator.FromDelay(trip, daySeconds, fromStop, toStop, report.DelaySeconds)
	if !ok {
		stats.Unmatched++
		return VehiclePosition{}, false
	}
	vp := makeVehiclePosition(report.ForeignTripId, match, position, serviceStart, stats)
	vp.FromStation = report.FromStation
	vp.ToStation = report.ToStation
	delay := report.DelaySeconds
	vp.DelaySeconds = &delay
	return vp, true
}

// absoluteTimestamp positions a report that carries only a trip id and an observation time
func (e *Engine) absoluteTimestamp(report Report, now time.Time, stats *CycleStats) (VehiclePosition, bool) {
	if len(report.ForeignTripId) == 0 {
		stats.Skipped++
		return VehiclePosition{}, false
	}
	at := now
	if report.TimestampEpoch > 0 {
		at = time.Unix(report.TimestampEpoch, 0)
	}
	daySeconds, serviceStart := e.clock.DaySeconds(at)
	match := e.correlator.Resolve(tripmatch.Request{
		ForeignTripId: report.ForeignTripId,
		DaySeconds:    daySeconds,
	})
	stats.Reasons[string(match.Reason)]++
	if !match.Found() {
		stats.Unmatched++
		return VehiclePosition{}, false
	}
	trip, _ := e.index.Trip(match.StaticTripId)
	position, ok := e.interpolator.FromTimestamp(trip, daySeconds)
	if !ok {
		stats.Unmatched++
		return VehiclePosition{}, false
	}
	return makeVehiclePosition(report.ForeignTripId, match, position, serviceStart, stats), true
}

// makeVehiclePosition combines a match and position, counting the vehicle as matched or fallback
func makeVehiclePosition(foreignTripId string,
	match tripmatch.Match,
	position interpolate.Position,
	serviceStart int64,
	stats *CycleStats) VehiclePosition {

	vp := VehiclePosition{
		ForeignTripId:    foreignTripId,
		Lat:              position.Lat,
		Lng:              position.Lng,
		Progress:         position.Progress,
		FromStopId:       position.FromStopId,
		Interpolated:     position.Interpolated,
		ResolutionReason: string(match.Reason),
		ResolutionScore:  match.Score,
		LowConfidence:    match.LowConfidence,
		MatchDetail:      match.Detail,
	}
	if match.Found() {
		staticTripId := match.StaticTripId
		vp.StaticTripId = &staticTripId
	}
	if len(position.ToStopId) > 0 {
		toStopId := position.ToStopId
		vp.ToStopId = &toStopId
	}
	if position.HasSegmentTimes {
		vp.SegmentDepartureEpoch = serviceStart + int64(position.SegmentDeparture)
		vp.SegmentArrivalEpoch = serviceStart + int64(position.SegmentArrival)
	}
	if position.Interpolated {
		stats.Matched++
	} else {
		stats.Fallback++
	}
	return vp
}
