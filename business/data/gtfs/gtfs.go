// Package gtfs provides read access to static gtfs schedule records
package gtfs

import (
	"fmt"
	"github.com/jmoiron/sqlx"
	"sort"
	"time"
)

// DataSet encompasses a gtfs schedule available from a source at a point in time.
// Each record loaded from the schedule shares the DataSet.Id value as part of the primary key.
type DataSet struct {
	Id  int64
	URL string
	// ETag is the ETag header if available from the source web site for the gtfs file. Is empty if not available
	ETag string `db:"e_tag"`
	// LastModifiedTimestamp is the unix epoch seconds the source web site provided for the last time the gtfs file was modified
	// is 0 if not available
	LastModifiedTimestamp int64      `db:"last_modified_timestamp"`
	DownloadedAt          time.Time  `db:"downloaded_at"`
	SavedAt               *time.Time `db:"saved_at"`
}

func (d DataSet) String() string {
	return fmt.Sprintf("DataSet Id:%d, url:%s, ETag:%s, downloaded:%s savedAt:%s",
		d.Id, d.URL, d.ETag, formatTime(&d.DownloadedAt), formatTime(d.SavedAt))
}

func formatTime(time *time.Time) string {
	if time == nil {
		return ""
	}
	return time.Format("2006-01-02T15:04:05")
}

// GetDataSet retrieves DataSet with dataSetId
func GetDataSet(db *sqlx.DB, dataSetId int64) (*DataSet, error) {
	query := "select * from data_set where id = $1"
	ds := DataSet{}
	err := db.Get(&ds, db.Rebind(query), dataSetId)
	return &ds, err
}

// GetLatestSavedDataSet retrieves the latest DataSet with a saved_at date
func GetLatestSavedDataSet(db *sqlx.DB) (*DataSet, error) {
	query := "select * from data_set where saved_at is not null order by saved_at desc, downloaded_at desc limit 1"
	ds := DataSet{}
	err := db.Get(&ds, query)
	return &ds, err
}

// ScheduleData holds every record needed to build a schedule index.
// Trips are kept in the order they were loaded, StopTimes are grouped by trip and ordered by StopSequence
type ScheduleData struct {
	DataSet   *DataSet
	Stops     []*Stop
	Trips     []*Trip
	StopTimes map[string][]*StopTime
}

// StopTimeCount returns the number of stop times loaded across all trips
func (s *ScheduleData) StopTimeCount() int {
	count := 0
	for _, stopTimes := range s.StopTimes {
		count += len(stopTimes)
	}
	return count
}

// LoadScheduleData retrieves stops, trips and stop times belonging to dataSetId.
// If dataSetId is zero the latest saved DataSet is used
func LoadScheduleData(db *sqlx.DB, dataSetId int64) (*ScheduleData, error) {
	var ds *DataSet
	var err error
	if dataSetId == 0 {
		ds, err = GetLatestSavedDataSet(db)
	} else {
		ds, err = GetDataSet(db, dataSetId)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve data set %d: %w", dataSetId, err)
	}

	stops, err := GetStops(db, ds.Id)
	if err != nil {
		return nil, err
	}
	trips, err := GetTrips(db, ds.Id)
	if err != nil {
		return nil, err
	}
	stopTimes, err := GetStopTimes(db, ds.Id)
	if err != nil {
		return nil, err
	}
	return &ScheduleData{
		DataSet:   ds,
		Stops:     stops,
		Trips:     trips,
		StopTimes: groupStopTimes(stopTimes),
	}, nil
}

// groupStopTimes collects stopTimes by trip id, each group sorted by StopSequence
func groupStopTimes(stopTimes []*StopTime) map[string][]*StopTime {
	results := make(map[string][]*StopTime)
	for _, st := range stopTimes {
		if len(st.TripId) == 0 {
			continue
		}
		results[st.TripId] = append(results[st.TripId], st)
	}
	for _, group := range results {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].StopSequence < group[j].StopSequence
		})
	}
	return results
}
