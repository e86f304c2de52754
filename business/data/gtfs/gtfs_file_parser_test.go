package gtfs

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestGTFSFileParser_getString(t *testing.T) {
	headers := "one,two"
	tests := []struct {
		name         string
		askForColumn string
		optional     bool
		line         string
		want         string
		expectError  bool
	}{
		{name: "missing", askForColumn: "three", line: "first,second", expectError: true},
		{name: "missing optional", askForColumn: "three", optional: true, line: "first,second"},
		{name: "first", askForColumn: "one", line: "first,second", want: "first"},
		{name: "empty", askForColumn: "one", line: ",second", expectError: true},
		{name: "empty optional", askForColumn: "one", optional: true, line: ",second"},
		{name: "short row optional", askForColumn: "two", optional: true, line: "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			parser, err := makeGTFSFileParser(strings.NewReader(headers+"\n"+tt.line), tt.name)
			is.NoErr(err)
			is.NoErr(parser.nextLine())
			got := parser.getString(tt.askForColumn, tt.optional)
			is.Equal(parser.getError() != nil, tt.expectError)
			is.Equal(got, tt.want)
		})
	}
}

func TestGTFSFileParser_getGTFSTimePointer(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		want        *int
		expectError bool
	}{
		{name: "morning", line: "T1,08:00:00", want: intPtr(8 * 3600)},
		{name: "past midnight", line: "T1,25:35:00", want: intPtr(25*3600 + 35*60)},
		{name: "single digit hour", line: "T1, 7:05:00", want: intPtr(7*3600 + 300)},
		{name: "blank", line: "T1,"},
		{name: "malformed", line: "T1,8am", expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			parser, err := makeGTFSFileParser(strings.NewReader("trip_id,arrival_time\n"+tt.line), tt.name)
			is.NoErr(err)
			is.NoErr(parser.nextLine())
			got := parser.getGTFSTimePointer("arrival_time")
			is.Equal(parser.getError() != nil, tt.expectError)
			if tt.want == nil {
				is.True(got == nil)
				return
			}
			is.Equal(*got, *tt.want)
		})
	}
}

func TestRemoveBOMIfPresent(t *testing.T) {
	is := is.New(t)
	parser, err := makeGTFSFileParser(strings.NewReader("\uFEFFstop_id,stop_name\nS1,Alpha"), "stops.txt")
	is.NoErr(err)
	is.Equal(parser.headers[0], "stop_id")
}

const (
	testStopsTxt = "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,Alpha,35.681,139.767\n" +
		"S2,Beta,35.69,139.70\n" +
		"S3,Gamma,,\n"
	testTripsTxt = "route_id,service_id,trip_id,trip_headsign\n" +
		"R1,W,T2,Beta\n" +
		"R1,W,T1,\n"
	testStopTimesTxt = "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:10:00,,S2,2\n" +
		"T1,,08:00:00,S1,1\n" +
		"T2,24:30:00,24:31:00,S1,1\n"
)

func checkLoadedFeed(t *testing.T, data *ScheduleData) {
	t.Helper()
	is := is.New(t)
	is.Equal(len(data.Stops), 3)
	is.Equal(*data.Stops[0].StopLat, 35.681)
	is.True(!data.Stops[2].HasLocation())

	is.Equal(len(data.Trips), 2)
	is.Equal(data.Trips[0].TripId, "T2")
	is.Equal(*data.Trips[0].TripHeadsign, "Beta")
	is.True(data.Trips[1].TripHeadsign == nil)

	t1 := data.StopTimes["T1"]
	is.Equal(len(t1), 2)
	is.Equal(t1[0].StopId, "S1")
	is.True(t1[0].ArrivalTime == nil)
	is.Equal(*t1[0].DepartureTime, 8*3600)
	is.Equal(*data.StopTimes["T2"][0].ArrivalTime, 24*3600+1800)
}

func TestLoadScheduleFeed_directory(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeTestFile(t, dir, "stops.txt", testStopsTxt)
	writeTestFile(t, dir, "trips.txt", testTripsTxt)
	writeTestFile(t, dir, "stop_times.txt", testStopTimesTxt)

	data, err := LoadScheduleFeed(dir)
	is.NoErr(err)
	checkLoadedFeed(t, data)
	is.Equal(data.DataSet.URL, dir)
}

func TestLoadScheduleFeed_zip(t *testing.T) {
	is := is.New(t)
	zipName := filepath.Join(t.TempDir(), "gtfs.zip")
	f, err := os.Create(zipName)
	is.NoErr(err)
	zw := zip.NewWriter(f)
	for name, contents := range map[string]string{
		"stops.txt":      testStopsTxt,
		"trips.txt":      testTripsTxt,
		"stop_times.txt": testStopTimesTxt,
	} {
		w, err := zw.Create(name)
		is.NoErr(err)
		_, err = w.Write([]byte(contents))
		is.NoErr(err)
	}
	is.NoErr(zw.Close())
	is.NoErr(f.Close())

	data, err := LoadScheduleFeed(zipName)
	is.NoErr(err)
	checkLoadedFeed(t, data)
}

func TestLoadScheduleFeed_errors(t *testing.T) {
	t.Run("missing stop_times", func(t *testing.T) {
		is := is.New(t)
		dir := t.TempDir()
		writeTestFile(t, dir, "stops.txt", testStopsTxt)
		_, err := LoadScheduleFeed(dir)
		is.True(err != nil)
	})
	t.Run("trips optional", func(t *testing.T) {
		is := is.New(t)
		dir := t.TempDir()
		writeTestFile(t, dir, "stops.txt", testStopsTxt)
		writeTestFile(t, dir, "stop_times.txt", testStopTimesTxt)
		data, err := LoadScheduleFeed(dir)
		is.NoErr(err)
		is.Equal(len(data.Trips), 0)
		is.Equal(data.StopTimeCount(), 3)
	})
	t.Run("bad sequence", func(t *testing.T) {
		is := is.New(t)
		dir := t.TempDir()
		writeTestFile(t, dir, "stops.txt", testStopsTxt)
		writeTestFile(t, dir, "stop_times.txt", "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n"+
			"T1,08:00:00,08:00:00,S1,first\n")
		_, err := LoadScheduleFeed(dir)
		is.True(err != nil)
		is.True(strings.Contains(err.Error(), "line 2"))
	})
	t.Run("missing path", func(t *testing.T) {
		is := is.New(t)
		_, err := LoadScheduleFeed(filepath.Join(t.TempDir(), "nothing.zip"))
		is.True(err != nil)
	})
}
