package engine

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
	"github.com/OpenTransitTools/traintracker/business/schedule"
	"github.com/OpenTransitTools/traintracker/business/stationlink"
	"github.com/matryer/is"
)

func intPtr(i int) *int {
	return &i
}

func float64Ptr(f float64) *float64 {
	return &f
}

type recordingObserver struct {
	snapshots []*Snapshot
}

func (r *recordingObserver) CycleCompleted(snapshot *Snapshot) {
	r.snapshots = append(r.snapshots, snapshot)
}

var serviceDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func makeTestEngine(t *testing.T, shape FeedShape) (*Engine, *SnapshotStore, *recordingObserver) {
	t.Helper()
	logger := log.New(&bytes.Buffer{}, "", 0)
	index := schedule.New(
		[]schedule.Stop{
			{StopId: "A", Lat: 35.0, Lng: 139.0, Located: true},
			{StopId: "B", Lat: 35.5, Lng: 139.5, Located: true},
			{StopId: "C", Lat: 36.0, Lng: 140.0, Located: true},
		},
		[]schedule.Trip{
			{TripId: "W_554M", Visits: []schedule.StopVisit{
				{StopId: "A", Departure: intPtr(1000), Sequence: 1},
				{StopId: "B", Arrival: intPtr(1200), Departure: intPtr(1210), Sequence: 2},
				{StopId: "C", Arrival: intPtr(1400), Sequence: 3},
			}},
		})
	stations := stationlink.ResolveAll(logger,
		[]stationlink.ForeignStation{
			{Id: "odpt.Station:A", Lat: float64Ptr(35.0), Lon: float64Ptr(139.0)},
			{Id: "odpt.Station:B"},
		},
		index.Stops(),
		map[string]string{"odpt.Station:B": "B"})
	store := &SnapshotStore{}
	observer := &recordingObserver{}
	e := New(logger, shape, index, stations, gtfs.ServiceClock{Location: time.UTC}, store, observer)
	return e, store, observer
}

func TestRun_absoluteTimestamp(t *testing.T) {
	is := is.New(t)
	e, store, observer := makeTestEngine(t, AbsoluteTimestamp)
	start := serviceDate.Unix()
	now := serviceDate.Add(1100 * time.Second)

	snapshot := e.Run(now, []Report{
		{ForeignTripId: "W_554M", TimestampEpoch: start + 1100},
		{ForeignTripId: ""},
		{ForeignTripId: "Line.42Z", TimestampEpoch: start + 1100},
		{ForeignTripId: "Line.554M", TimestampEpoch: start + 900},
	})

	is.Equal(snapshot.Seq, uint64(1))
	is.Equal(snapshot.Shape, AbsoluteTimestamp)
	is.Equal(snapshot.ServiceDayStartEpoch, start)
	is.Equal(snapshot.CurrentTimeSec, 1100)
	is.Equal(len(snapshot.Vehicles), 2)

	moving := snapshot.Vehicles[0]
	is.Equal(moving.ForeignTripId, "W_554M")
	is.Equal(*moving.StaticTripId, "W_554M")
	is.Equal(moving.Progress, 0.5)
	is.True(moving.Interpolated)
	is.Equal(*moving.ToStopId, "B")
	is.Equal(moving.SegmentDepartureEpoch, start+1000)
	is.Equal(moving.SegmentArrivalEpoch, start+1200)
	is.Equal(moving.ResolutionReason, "exact-id")
	is.True(moving.DelaySeconds == nil)

	waiting := snapshot.Vehicles[1]
	is.Equal(waiting.FromStopId, "A")
	is.True(waiting.ToStopId == nil)
	is.True(!waiting.Interpolated)
	is.Equal(waiting.ResolutionReason, "time-only")
	is.True(waiting.LowConfidence)

	is.Equal(snapshot.Stats.Reports, 4)
	is.Equal(snapshot.Stats.Matched, 1)
	is.Equal(snapshot.Stats.Fallback, 1)
	is.Equal(snapshot.Stats.Unmatched, 1)
	is.Equal(snapshot.Stats.Skipped, 1)
	is.Equal(snapshot.Stats.Reasons["no-candidate"], 1)

	is.Equal(store.Latest(), snapshot)
	is.Equal(len(observer.snapshots), 1)

	second := e.Run(now.Add(3*time.Second), nil)
	is.Equal(second.Seq, uint64(2))
	is.Equal(store.Latest(), second)
	is.Equal(len(second.Vehicles), 0)
	is.Equal(snapshot.Seq, uint64(1)) // earlier snapshot untouched
}

func TestRun_feedClockAheadKeepsCache(t *testing.T) {
	is := is.New(t)
	e, _, _ := makeTestEngine(t, AbsoluteTimestamp)
	start := serviceDate.Unix()
	now := serviceDate.Add(1100 * time.Second)

	first := e.Run(now, []Report{{ForeignTripId: "W_554M", TimestampEpoch: start + 1105}})
	is.Equal(first.Vehicles[0].ResolutionReason, "exact-id")

	// the cycle clock now trails the entry stored from the first report
	second := e.Run(now.Add(3*time.Second), []Report{{ForeignTripId: "W_554M", TimestampEpoch: start + 1140}})
	is.Equal(len(second.Vehicles), 1)
	is.Equal(second.Vehicles[0].ResolutionReason, "cache-hit")
	is.Equal(e.Correlator().CacheSize(), 1)
}

func TestRun_scheduleRelative(t *testing.T) {
	is := is.New(t)
	e, _, _ := makeTestEngine(t, ScheduleRelative)
	start := serviceDate.Unix()

	snapshot := e.Run(serviceDate.Add(1700*time.Second), []Report{
		{ForeignTripId: "odpt.Train:JR.Line.554M", FromStation: "odpt.Station:A", ToStation: "odpt.Station:B",
			DelaySeconds: 700},
		{ForeignTripId: "odpt.Train:JR.Line.554M", FromStation: "odpt.Station:A"},
		{ForeignTripId: "odpt.Train:JR.Line.999Z", FromStation: "odpt.Station:A", ToStation: "odpt.Station:B"},
		{ForeignTripId: "odpt.Train:JR.Line.998Z", FromStation: "odpt.Station:X", ToStation: "odpt.Station:B"},
	})

	is.Equal(len(snapshot.Vehicles), 2)
	moving := snapshot.Vehicles[0]
	is.Equal(*moving.StaticTripId, "W_554M")
	is.Equal(moving.ResolutionReason, "matched")
	is.Equal(moving.Progress, 0.5)
	is.True(moving.Interpolated)
	is.Equal(moving.SegmentDepartureEpoch, start+1600)
	is.Equal(moving.SegmentArrivalEpoch, start+1800)
	is.Equal(*moving.DelaySeconds, 700)
	is.Equal(moving.FromStation, "odpt.Station:A")

	held := snapshot.Vehicles[1]
	is.True(held.StaticTripId == nil)
	is.Equal(held.ResolutionReason, "no-candidate")
	is.Equal(held.FromStopId, "A")
	is.Equal(held.Lat, 35.0)
	is.True(!held.Interpolated)
	is.Equal(held.SegmentDepartureEpoch, int64(0))

	is.Equal(snapshot.Stats.Matched, 1)
	is.Equal(snapshot.Stats.Fallback, 1)
	is.Equal(snapshot.Stats.Skipped, 1)
	is.Equal(snapshot.Stats.Unmatched, 1) // from station has no link
	is.Equal(snapshot.Stats.ClampedDelays, 1)

	again := e.Run(serviceDate.Add(1710*time.Second), []Report{
		{ForeignTripId: "odpt.Train:JR.Line.554M", FromStation: "odpt.Station:A", ToStation: "odpt.Station:B"},
	})
	is.Equal(again.Vehicles[0].ResolutionReason, "cache-hit")
}

func TestVehiclePosition_json(t *testing.T) {
	is := is.New(t)
	data, err := json.Marshal(VehiclePosition{ForeignTripId: "x", FromStopId: "A"})
	is.NoErr(err)
	text := string(data)
	is.True(strings.Contains(text, `"static_trip_id":null`))
	is.True(strings.Contains(text, `"to_stop_id":null`))
	is.True(!strings.Contains(text, "delay_seconds"))

	data, err = json.Marshal(Snapshot{Shape: ScheduleRelative})
	is.NoErr(err)
	is.True(strings.Contains(string(data), `"shape":"schedule-relative"`))
}

func TestSnapshotStore_concurrentReaders(t *testing.T) {
	is := is.New(t)
	store := &SnapshotStore{}
	is.True(store.Latest() == nil)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if s := store.Latest(); s != nil && len(s.Vehicles) != int(s.Seq) {
					t.Errorf("partial snapshot seq %d with %d vehicles", s.Seq, len(s.Vehicles))
				}
			}
		}()
	}
	for seq := uint64(1); seq <= 100; seq++ {
		store.Publish(&Snapshot{Seq: seq, Vehicles: make([]VehiclePosition, seq)})
	}
	wg.Wait()
	is.Equal(store.Latest().Seq, uint64(100))
}

func TestFeedShape_String(t *testing.T) {
	is := is.New(t)
	is.Equal(AbsoluteTimestamp.String(), "absolute-timestamp")
	is.Equal(FeedShape(0).String(), "unknown")
}
