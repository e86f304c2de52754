package gtfs

import (
	"fmt"
	"github.com/jmoiron/sqlx"
)

// Trip contains data from a gtfs trip definition in a trips.txt file
type Trip struct {
	DataSetId    int64   `db:"data_set_id" json:"data_set_id"`
	TripId       string  `db:"trip_id" json:"trip_id"`
	RouteId      string  `db:"route_id" json:"route_id"`
	ServiceId    string  `db:"service_id" json:"service_id"`
	TripHeadsign *string `db:"trip_headsign" json:"trip_headsign"`
}

// GetTrips retrieves all trips in dataSetId. Order is by trip_id so repeated loads produce the same sequence
func GetTrips(db *sqlx.DB, dataSetId int64) ([]*Trip, error) {
	query := "select data_set_id, trip_id, route_id, service_id, trip_headsign from trip " +
		"where data_set_id = $1 order by trip_id"
	var trips []*Trip
	err := db.Select(&trips, db.Rebind(query), dataSetId)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve trips for data set %d: %w", dataSetId, err)
	}
	return trips, nil
}
