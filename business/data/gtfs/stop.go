package gtfs

import (
	"fmt"
	"github.com/jmoiron/sqlx"
)

// Stop contains a record from a gtfs stops.txt file
type Stop struct {
	DataSetId int64    `db:"data_set_id" json:"data_set_id"`
	StopId    string   `db:"stop_id" json:"stop_id"`
	StopName  string   `db:"stop_name" json:"stop_name"`
	StopLat   *float64 `db:"stop_lat" json:"stop_lat"`
	StopLon   *float64 `db:"stop_lon" json:"stop_lon"`
}

// HasLocation returns true when both coordinates are present
func (s *Stop) HasLocation() bool {
	return s != nil && s.StopLat != nil && s.StopLon != nil
}

// GetStops retrieves all stops in dataSetId ordered by stop_id
func GetStops(db *sqlx.DB, dataSetId int64) ([]*Stop, error) {
	query := "select data_set_id, stop_id, stop_name, stop_lat, stop_lon from stop " +
		"where data_set_id = $1 order by stop_id"
	var stops []*Stop
	err := db.Select(&stops, db.Rebind(query), dataSetId)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve stops for data set %d: %w", dataSetId, err)
	}
	return stops, nil
}
