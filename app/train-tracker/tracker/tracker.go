// Package tracker runs the live train position service: it polls a feed, runs each batch through the engine and
// serves and publishes the resulting snapshots
package tracker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/OpenTransitTools/traintracker/business/schedule"
	"github.com/OpenTransitTools/traintracker/business/stationlink"
	"github.com/OpenTransitTools/traintracker/foundation/httpclient"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
)

// Feed shape names accepted by Config.Shape
const (
	ShapeODPT   = "odpt"
	ShapeGTFSRT = "gtfsrt"
)

// Config holds everything StartServices needs besides its connections
type Config struct {
	Shape          string
	BaseURL        string
	APIKey         string
	Railways       []string
	GtfsrtSource   string
	RequestTimeout time.Duration
	PollEvery      time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	OverridesFile string
	LandmarksFile string
	StationsFile  string

	NatsSubject string
	HttpPort    int
}

// engineShape maps a configured shape name to its engine.FeedShape
func engineShape(name string) (engine.FeedShape, error) {
	switch name {
	case ShapeODPT:
		return engine.ScheduleRelative, nil
	case ShapeGTFSRT:
		return engine.AbsoluteTimestamp, nil
	}
	return 0, fmt.Errorf("unknown feed shape %q, expected %s or %s", name, ShapeODPT, ShapeGTFSRT)
}

// stationSource lists the foreign stations of a feed
type stationSource interface {
	FetchStations(ctx context.Context) ([]stationlink.ForeignStation, error)
}

// makeFeed creates the feed client for cfg.Shape. The returned stationSource is nil for feeds without stations
func makeFeed(log *log.Logger, cfg Config) (feed, stationSource, error) {
	client := httpclient.NewClient(cfg.RequestTimeout)
	switch cfg.Shape {
	case ShapeODPT:
		if len(cfg.Railways) == 0 {
			return nil, nil, fmt.Errorf("odpt feed requires at least one railway")
		}
		odpt := makeOdptClient(log, client, cfg.BaseURL, cfg.APIKey, cfg.Railways)
		return odpt, odpt, nil
	case ShapeGTFSRT:
		if len(cfg.GtfsrtSource) == 0 {
			return nil, nil, fmt.Errorf("gtfsrt feed requires a source url or file")
		}
		return makeGtfsrtClient(log, client, cfg.GtfsrtSource), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown feed shape %q", cfg.Shape)
}

// linkStations builds the station reconciler. Stations come from cfg.StationsFile when set, otherwise from source
func linkStations(ctx context.Context,
	log *log.Logger,
	cfg Config,
	source stationSource,
	index *schedule.Index) (*stationlink.Reconciler, error) {

	overrides, err := loadOverrides(cfg.OverridesFile)
	if err != nil {
		return nil, err
	}
	landmarks, err := loadLandmarks(cfg.LandmarksFile)
	if err != nil {
		return nil, err
	}

	var stations []stationlink.ForeignStation
	switch {
	case len(cfg.StationsFile) > 0:
		stations, err = loadStationFile(cfg.StationsFile)
	case source != nil:
		stations, err = source.FetchStations(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("loading foreign stations: %w", err)
	}

	if len(landmarks) > 0 {
		var enhanced int
		stations, enhanced = stationlink.EnhanceCoordinates(stations, landmarks)
		log.Printf("refined coordinates of %d stations from %d landmarks", enhanced, len(landmarks))
	}
	return stationlink.ResolveAll(log, stations, index.Stops(), overrides), nil
}

// StartServices links stations, then runs the poll loop and web service until shutdownSignal.
// natsConn and db may be nil
func StartServices(log *log.Logger,
	cfg Config,
	index *schedule.Index,
	clock gtfs.ServiceClock,
	db *sqlx.DB,
	natsConn *nats.Conn,
	shutdownSignal chan os.Signal) error {

	shape, err := engineShape(cfg.Shape)
	if err != nil {
		return err
	}
	liveFeed, stationFeed, err := makeFeed(log, cfg)
	if err != nil {
		return err
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), time.Minute)
	stations, err := linkStations(startupCtx, log, cfg, stationFeed, index)
	startupCancel()
	if err != nil {
		return err
	}

	metrics := makeMetricsCollector()
	observers := []engine.Observer{&logObserver{log: log}, metrics}
	if natsConn != nil {
		observers = append(observers, makeSnapshotPublisher(log, natsConn, cfg.NatsSubject, metrics))
	}
	store := &engine.SnapshotStore{}
	eng := engine.New(log, shape, index, stations, clock, store, observers...)

	loop := &pollLoop{
		log:            log,
		feed:           liveFeed,
		engine:         eng,
		metrics:        metrics,
		pollEvery:      cfg.PollEvery,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
		now:            time.Now,
	}
	handler := &trackerHandler{
		log:        log,
		shape:      shape,
		index:      index,
		stations:   stations,
		correlator: eng.Correlator(),
		store:      store,
		db:         db,
	}

	wg := sync.WaitGroup{}

	//create shutdown channels
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()
	webServiceShutdown := make(chan bool, 1)

	//start all child services
	wg.Add(2)
	go loop.run(loopCtx, &wg)
	go runWebService(log, &wg, createServer(handler, metrics, cfg.HttpPort), webServiceShutdown)

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal, shutting down subroutines")
	loopCancel()
	webServiceShutdown <- true
	wg.Wait()
	log.Printf("Subroutines shut down, exiting train tracker")
	return nil
}
