package gtfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func writeTestFile(t *testing.T, directory string, name string, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(directory, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("unable to write %s: %v", name, err)
	}
}

func TestLoadScheduleDirectory(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeTestFile(t, dir, "stops.json", `[
		{"stop_id":"S1","stop_name":"Alpha","stop_lat":"35.681","stop_lon":"139.767"},
		{"stop_id":"S2","stop_name":"Beta","stop_lat":35.69,"stop_lon":139.70},
		{"stop_id":"S3","stop_name":"Gamma"},
		{"stop_name":"no id"}
	]`)
	writeTestFile(t, dir, "trips.json", `[
		{"trip_id":"T2","route_id":"R1","service_id":"W","trip_headsign":"Beta"},
		{"trip_id":"T1","route_id":"R1","service_id":"W"}
	]`)
	writeTestFile(t, dir, "stop_times.json", `[
		{"trip_id":"T1","stop_id":"S2","stop_sequence":"2","arrival_time":"08:10:00","departure_time":""},
		{"trip_id":"T1","stop_id":"S1","stop_sequence":1,"arrival_time":"","departure_time":"08:00:00"},
		{"trip_id":"T2","stop_id":"S1","stop_sequence":1,"arrival_time":"24:30:00","departure_time":"24:31:00"}
	]`)

	data, err := LoadScheduleDirectory(dir)
	is.NoErr(err)

	is.Equal(len(data.Stops), 3)
	is.Equal(*data.Stops[0].StopLat, 35.681)
	is.Equal(*data.Stops[1].StopLon, 139.70)
	is.True(!data.Stops[2].HasLocation())

	is.Equal(len(data.Trips), 2)
	is.Equal(data.Trips[0].TripId, "T2") // file order kept
	is.Equal(*data.Trips[0].TripHeadsign, "Beta")
	is.True(data.Trips[1].TripHeadsign == nil)

	t1 := data.StopTimes["T1"]
	is.Equal(len(t1), 2)
	is.Equal(t1[0].StopId, "S1") // sorted by stop_sequence
	is.True(t1[0].ArrivalTime == nil)
	is.Equal(*t1[0].DepartureTime, 8*3600)
	is.Equal(*t1[1].ArrivalTime, 8*3600+600)
	is.True(t1[1].DepartureTime == nil)
	is.Equal(*data.StopTimes["T2"][0].ArrivalTime, 24*3600+1800)
	is.Equal(data.StopTimeCount(), 3)
}

func TestLoadScheduleDirectory_missingFiles(t *testing.T) {
	is := is.New(t)
	data, err := LoadScheduleDirectory(t.TempDir())
	is.NoErr(err)
	is.Equal(len(data.Stops), 0)
	is.Equal(len(data.Trips), 0)
	is.Equal(data.StopTimeCount(), 0)
}

func TestLoadScheduleDirectory_invalidTime(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeTestFile(t, dir, "stop_times.json", `[
		{"trip_id":"T1","stop_id":"S1","stop_sequence":1,"arrival_time":"8am"}
	]`)
	_, err := LoadScheduleDirectory(dir)
	is.True(err != nil)
}

func TestFormatScheduleTime(t *testing.T) {
	is := is.New(t)
	is.Equal(FormatScheduleTime(nil), "")
	is.Equal(FormatScheduleTime(intPtr(8*3600+5)), "08:00:05")
	is.Equal(FormatScheduleTime(intPtr(25*3600+35*60)), "25:35:00")
}

func TestWriteScheduleDirectory(t *testing.T) {
	is := is.New(t)
	feedDir := t.TempDir()
	writeTestFile(t, feedDir, "stops.txt", testStopsTxt)
	writeTestFile(t, feedDir, "trips.txt", "route_id,service_id,trip_id,trip_headsign\nR1,W,T2,Beta\n")
	writeTestFile(t, feedDir, "stop_times.txt", testStopTimesTxt)
	data, err := LoadScheduleFeed(feedDir)
	is.NoErr(err)

	exportDir := filepath.Join(t.TempDir(), "export")
	is.NoErr(WriteScheduleDirectory(exportDir, data))

	loaded, err := LoadScheduleDirectory(exportDir)
	is.NoErr(err)
	is.Equal(len(loaded.Stops), 3)
	is.Equal(*loaded.Stops[1].StopLon, 139.70)
	is.True(!loaded.Stops[2].HasLocation())
	is.Equal(len(loaded.Trips), 1)
	is.Equal(loaded.StopTimeCount(), 3)
	is.Equal(*loaded.StopTimes["T2"][0].DepartureTime, 24*3600+60)
	is.True(loaded.StopTimes["T1"][0].ArrivalTime == nil) // trip without a record still exported
	is.Equal(loaded.StopTimes["T1"][1].StopSequence, uint32(2))
}
