package main

import (
	"fmt"

	"github.com/ardanlabs/conf"
)

// scheduleExportCmd contains required arguments for export command execution
type scheduleExportCmd struct {
	destinationDir string
}

// parseScheduleExportCmd using conf.Args attempts to load scheduleExportCmd, returns error if arguments are missing
func parseScheduleExportCmd(args conf.Args) (*scheduleExportCmd, error) {
	destinationDir := args.Num(1)
	if len(destinationDir) < 1 {
		return nil, fmt.Errorf("expected destination directory with command export")
	}
	return &scheduleExportCmd{destinationDir: destinationDir}, nil
}

// scheduleSource names where a schedule is read from
type scheduleSource struct {
	kind      string
	dataSetId int64
	path      string
}

// parseScheduleSource validates the configured source kind and picks the path it reads from
func parseScheduleSource(kind string, dataSetId int64, jsonDir string, gtfsFeed string) (*scheduleSource, error) {
	switch kind {
	case "db":
		return &scheduleSource{kind: kind, dataSetId: dataSetId}, nil
	case "json":
		return &scheduleSource{kind: kind, path: jsonDir}, nil
	case "gtfs":
		return &scheduleSource{kind: kind, path: gtfsFeed}, nil
	}
	return nil, fmt.Errorf("unknown schedule source %q, expected db, json or gtfs", kind)
}

func (s scheduleSource) String() string {
	if s.kind == "db" {
		if s.dataSetId == 0 {
			return "latest saved data set"
		}
		return fmt.Sprintf("data set %d", s.dataSetId)
	}
	return fmt.Sprintf("%s %s", s.kind, s.path)
}
