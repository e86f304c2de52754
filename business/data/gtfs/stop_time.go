package gtfs

import (
	"fmt"
	"github.com/OpenTransitTools/traintracker/foundation/database"
	"github.com/jmoiron/sqlx"
)

// StopTime contains a record from a gtfs stop_times.txt file
// represents a scheduled arrival and departure at a stop.
// ArrivalTime and DepartureTime are seconds from the start of the service day and nil when not provided
type StopTime struct {
	DataSetId     int64  `db:"data_set_id" json:"data_set_id"`
	TripId        string `db:"trip_id" json:"trip_id"`
	StopSequence  uint32 `db:"stop_sequence" json:"stop_sequence"`
	StopId        string `db:"stop_id" json:"stop_id"`
	ArrivalTime   *int   `db:"arrival_time" json:"arrival_time"`
	DepartureTime *int   `db:"departure_time" json:"departure_time"`
}

// GetStopTimes retrieves all stop times in dataSetId ordered by trip and stop sequence
func GetStopTimes(db *sqlx.DB, dataSetId int64) ([]*StopTime, error) {
	statementString := "select data_set_id, trip_id, stop_sequence, stop_id, arrival_time, departure_time " +
		"from stop_time where data_set_id = :data_set_id order by trip_id, stop_sequence"
	rows, err := database.PrepareNamedQueryRowsFromMap(statementString, db, map[string]interface{}{
		"data_set_id": dataSetId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to query stop times for data set %d: %w", dataSetId, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	results := make([]*StopTime, 0)
	for rows.Next() {
		st := StopTime{}
		err = rows.StructScan(&st)
		if err != nil {
			return nil, fmt.Errorf("unable to scan stop time row: %w", err)
		}
		results = append(results, &st)
	}
	return results, rows.Err()
}
