package main

import (
	"fmt"
	logger "log"
	"os"

	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
	"github.com/OpenTransitTools/traintracker/business/schedule"
	"github.com/OpenTransitTools/traintracker/business/tripmatch"
	"github.com/OpenTransitTools/traintracker/foundation/database"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "SCHEDULE_EXPORT : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
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
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Schedule struct {
			Source    string `conf:"default:db,help:db json or gtfs"`
			DataSetId int64  `conf:"default:0"`
			Directory string `conf:"default:./schedule"`
			GtfsFeed  string `conf:"default:./gtfs.zip"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Export and inspect static schedules used by the train tracker"
	const prefix = "SCHEDULE_EXPORT"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
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

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	source, err := parseScheduleSource(cfg.Schedule.Source, cfg.Schedule.DataSetId, cfg.Schedule.Directory,
		cfg.Schedule.GtfsFeed)
	if err != nil {
		return err
	}

	dbCfg := database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	}

	switch cfg.Args.Num(0) {
	case "export":
		cmd, err := parseScheduleExportCmd(cfg.Args)
		if err != nil {
			return err
		}
		data, err := loadSchedule(log, dbCfg, source)
		if err != nil {
			return err
		}
		if err = gtfs.WriteScheduleDirectory(cmd.destinationDir, data); err != nil {
			return err
		}
		log.Printf("exported %d stops, %d trips, %d stop times from %s to %s", len(data.Stops), len(data.Trips),
			data.StopTimeCount(), source, cmd.destinationDir)
		return nil

	case "summary":
		data, err := loadSchedule(log, dbCfg, source)
		if err != nil {
			return err
		}
		index := schedule.FromScheduleData(data)
		correlator := tripmatch.New(index, nil)
		fmt.Printf("source: %s\n", source)
		fmt.Printf("stops: %d\n", len(index.Stops()))
		fmt.Printf("trips: %d\n", len(index.Trips()))
		fmt.Printf("stop times: %d\n", data.StopTimeCount())
		fmt.Printf("train numbers: %d\n", correlator.TrainNumberCount())
		for _, tripId := range index.DroppedTrips() {
			fmt.Printf("dropped trip with fewer than two stops: %s\n", tripId)
		}
		return nil

	default:
		fmt.Println("export <directory>: write stops.json, trips.json and stop_times.json for the json source")
		fmt.Println("summary: print counts of the loaded schedule")
		usage, err := conf.Usage(prefix, &cfg)
		if err != nil {
			return fmt.Errorf("generating config usage: %w", err)
		}
		fmt.Println(usage)
	}
	return nil
}

// loadSchedule reads a schedule from source, opening the database only when source needs it
func loadSchedule(log *logger.Logger, dbCfg database.Config, source *scheduleSource) (*gtfs.ScheduleData, error) {
	switch source.kind {
	case "json":
		return gtfs.LoadScheduleDirectory(source.path)
	case "gtfs":
		return gtfs.LoadScheduleFeed(source.path)
	}

	log.Println("main: Initializing database support")
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", dbCfg.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()
	return gtfs.LoadScheduleData(db, source.dataSetId)
}
