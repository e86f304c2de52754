package tracker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/OpenTransitTools/traintracker/business/stationlink"
	"github.com/matryer/is"
)

func makeTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	logger := testLogger()
	index := makeTestIndex()
	stations := stationlink.ResolveAll(logger,
		[]stationlink.ForeignStation{{Id: "odpt.Station:A", Lat: float64Ptr(35.0), Lon: float64Ptr(139.0)}},
		index.Stops(), nil)
	store := &engine.SnapshotStore{}
	metrics := makeMetricsCollector()
	eng := engine.New(logger, engine.AbsoluteTimestamp, index, stations, gtfs.ServiceClock{Location: time.UTC},
		store, metrics)
	handler := &trackerHandler{
		log:        logger,
		shape:      engine.AbsoluteTimestamp,
		index:      index,
		stations:   stations,
		correlator: eng.Correlator(),
		store:      store,
	}
	server := httptest.NewServer(createRouter(handler, metrics))
	t.Cleanup(server.Close)
	return server, eng
}

// healthBody mirrors healthResponse without the text encoded shape
type healthBody struct {
	Status      string              `json:"status"`
	Stops       int                 `json:"stops"`
	Trips       int                 `json:"trips"`
	Stations    stationlink.Summary `json:"stations"`
	CachedTrips int                 `json:"cached_trips"`
	Vehicles    int                 `json:"vehicles"`
	SnapshotSeq uint64              `json:"snapshot_seq"`
	LastUpdate  *int64              `json:"last_update"`
	Database    string              `json:"database"`
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestWebService_default(t *testing.T) {
	is := is.New(t)
	server, _ := makeTestServer(t)
	resp, err := http.Get(server.URL + "/")
	is.NoErr(err)
	_ = resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(resp.Header.Get("Application-Status"), "OK")
}

func TestWebService_health(t *testing.T) {
	is := is.New(t)
	server, eng := makeTestServer(t)

	status, body := getBody(t, server.URL+"/api/health")
	is.Equal(status, http.StatusOK)
	var before healthBody
	is.NoErr(json.Unmarshal([]byte(body), &before))
	is.Equal(before.Status, "ok")
	is.Equal(before.Stops, 3)
	is.Equal(before.Trips, 1)
	is.Equal(before.Stations.Exact, 1)
	is.True(before.LastUpdate == nil)
	is.Equal(before.Database, "")

	start := serviceDate.Unix()
	eng.Run(serviceDate.Add(1100*time.Second), []engine.Report{{ForeignTripId: "W_554M", TimestampEpoch: start + 1100}})

	_, body = getBody(t, server.URL+"/api/health")
	var after healthBody
	is.NoErr(json.Unmarshal([]byte(body), &after))
	is.Equal(after.Vehicles, 1)
	is.Equal(after.SnapshotSeq, uint64(1))
	is.Equal(*after.LastUpdate, start+1100)
	is.Equal(after.CachedTrips, 1)
	is.True(strings.Contains(body, `"shape":"absolute-timestamp"`))
}

func TestWebService_lastSnapshot(t *testing.T) {
	is := is.New(t)
	server, eng := makeTestServer(t)

	status, _ := getBody(t, server.URL+"/debug/last-snapshot")
	is.Equal(status, http.StatusServiceUnavailable)

	start := serviceDate.Unix()
	eng.Run(serviceDate.Add(1100*time.Second), []engine.Report{{ForeignTripId: "W_554M", TimestampEpoch: start + 1100}})

	status, body := getBody(t, server.URL+"/debug/last-snapshot")
	is.Equal(status, http.StatusOK)
	var snapshot struct {
		Seq      uint64 `json:"seq"`
		Vehicles []struct {
			StaticTripId string  `json:"static_trip_id"`
			Progress     float64 `json:"progress"`
		} `json:"vehicles"`
	}
	is.NoErr(json.Unmarshal([]byte(body), &snapshot))
	is.Equal(snapshot.Seq, uint64(1))
	is.Equal(len(snapshot.Vehicles), 1)
	is.Equal(snapshot.Vehicles[0].StaticTripId, "W_554M")
	is.Equal(snapshot.Vehicles[0].Progress, 0.5)
}

func TestWebService_metrics(t *testing.T) {
	is := is.New(t)
	server, eng := makeTestServer(t)
	eng.Run(serviceDate.Add(1100*time.Second), []engine.Report{{ForeignTripId: ""}})

	status, body := getBody(t, server.URL+"/metrics")
	is.Equal(status, http.StatusOK)
	is.True(strings.Contains(body, "tracker_cycles_total 1"))
	is.True(strings.Contains(body, `tracker_reports_total{outcome="skipped"} 1`))
}
