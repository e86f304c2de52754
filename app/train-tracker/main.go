package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/traintracker/app/train-tracker/tracker"
	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
	"github.com/OpenTransitTools/traintracker/business/schedule"
	"github.com/OpenTransitTools/traintracker/foundation/database"
	"github.com/ardanlabs/conf"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "TRAIN_TRACKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			MaxOpenConns int    `conf:"default:4"`
		}
		Schedule struct {
			Source       string `conf:"default:db,help:db json or gtfs"`
			DataSetId    int64  `conf:"default:0,help:0 loads the latest saved data set"`
			Directory    string `conf:"default:./schedule,help:directory of stops.json trips.json stop_times.json"`
			GtfsFeed     string `conf:"default:./gtfs.zip,help:gtfs zip file or unzipped directory"`
			TimeZone     string `conf:"default:Asia/Tokyo"`
			RolloverHour int    `conf:"default:3"`
		}
		Feed struct {
			Shape              string   `conf:"default:odpt,help:odpt or gtfsrt"`
			BaseUrl            string   `conf:"default:https://api.odpt.org/api/v4"`
			ApiKey             string   `conf:"noprint"`
			Railways           []string `conf:"default:odpt.Railway:JR-East.ChuoRapid"`
			GtfsrtSource       string   `conf:"help:url or file of a GTFS-realtime VehiclePositions feed"`
			PollEverySeconds   int      `conf:"default:30"`
			TimeoutSeconds     int      `conf:"default:10"`
			BackoffInitialSecs int      `conf:"default:3"`
			BackoffMaxSecs     int      `conf:"default:30"`
		}
		Stations struct {
			OverridesFile string `conf:"help:json object of foreign station id to stop id"`
			LandmarksFile string `conf:"help:json array of named coordinates used to refine station locations"`
			StationsFile  string `conf:"help:json array of foreign stations used instead of the feed station list"`
		}
		NATS struct {
			Enabled bool   `conf:"default:false"`
			Url     string `conf:"default:nats://localhost:4222"`
			Subject string `conf:"default:train-positions"`
		}
		Web struct {
			Port int `conf:"default:8080"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Estimate live train positions from a realtime feed and a static schedule"
	const prefix = "TRACKER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	location, err := time.LoadLocation(cfg.Schedule.TimeZone)
	if err != nil {
		return fmt.Errorf("loading time zone %s: %w", cfg.Schedule.TimeZone, err)
	}

	// =========================================================================
	// Load Schedule

	var db *sqlx.DB
	var scheduleData *gtfs.ScheduleData
	switch cfg.Schedule.Source {
	case "db":
		log.Println("main: Initializing database support")
		db, err = database.Open(database.Config{
			User:         cfg.DB.User,
			Password:     cfg.DB.Password,
			Host:         cfg.DB.Host,
			Name:         cfg.DB.Name,
			DisableTLS:   cfg.DB.DisableTLS,
			MaxOpenConns: cfg.DB.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer func() {
			log.Printf("main: Database Stopping : %s", cfg.DB.Host)
			err = db.Close()
			if err != nil {
				log.Printf("main: error closing database: %v", err)
			}
		}()
		scheduleData, err = gtfs.LoadScheduleData(db, cfg.Schedule.DataSetId)
	case "json":
		scheduleData, err = gtfs.LoadScheduleDirectory(cfg.Schedule.Directory)
	case "gtfs":
		scheduleData, err = gtfs.LoadScheduleFeed(cfg.Schedule.GtfsFeed)
	default:
		return fmt.Errorf("unknown schedule source %q, expected db, json or gtfs", cfg.Schedule.Source)
	}
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	log.Printf("main: schedule from %s", scheduleData.DataSet)
	index := schedule.FromScheduleData(scheduleData)
	log.Printf("main: loaded %d stops, %d trips, %d stop times", len(index.Stops()), len(index.Trips()),
		scheduleData.StopTimeCount())
	if dropped := index.DroppedTrips(); len(dropped) > 0 {
		log.Printf("main: dropped %d trips with fewer than two stops", len(dropped))
	}

	// =========================================================================
	// Start NATS

	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.Url,
			nats.Name("train-tracker"),
			nats.DisconnectHandler(func(_ *nats.Conn) {
				log.Printf("main: nats disconnected")
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("main: nats reconnected")
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				log.Printf("main: nats closed")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to nats at %s: %w", cfg.NATS.Url, err)
		}
		defer func() {
			if err := natsConn.Drain(); err != nil {
				log.Printf("main: error draining nats connection: %v", err)
			}
		}()
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return tracker.StartServices(log,
		tracker.Config{
			Shape:          cfg.Feed.Shape,
			BaseURL:        cfg.Feed.BaseUrl,
			APIKey:         cfg.Feed.ApiKey,
			Railways:       cfg.Feed.Railways,
			GtfsrtSource:   cfg.Feed.GtfsrtSource,
			RequestTimeout: time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
			PollEvery:      time.Duration(cfg.Feed.PollEverySeconds) * time.Second,
			BackoffInitial: time.Duration(cfg.Feed.BackoffInitialSecs) * time.Second,
			BackoffMax:     time.Duration(cfg.Feed.BackoffMaxSecs) * time.Second,
			OverridesFile:  cfg.Stations.OverridesFile,
			LandmarksFile:  cfg.Stations.LandmarksFile,
			StationsFile:   cfg.Stations.StationsFile,
			NatsSubject:    cfg.NATS.Subject,
			HttpPort:       cfg.Web.Port,
		},
		index,
		gtfs.ServiceClock{Location: location, RolloverHour: cfg.Schedule.RolloverHour},
		db,
		natsConn,
		shutdown)
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
