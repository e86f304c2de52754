package gtfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// flexibleValue accepts a json string or number and keeps its text
type flexibleValue string

func (f *flexibleValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleValue(strings.TrimSpace(s))
		return nil
	}
	*f = flexibleValue(data)
	return nil
}

func (f flexibleValue) float() (*float64, error) {
	if len(f) == 0 {
		return nil, nil
	}
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

type jsonStop struct {
	StopId   string        `json:"stop_id"`
	StopName string        `json:"stop_name"`
	StopLat  flexibleValue `json:"stop_lat"`
	StopLon  flexibleValue `json:"stop_lon"`
}

type jsonTrip struct {
	TripId       string `json:"trip_id"`
	RouteId      string `json:"route_id"`
	ServiceId    string `json:"service_id"`
	TripHeadsign string `json:"trip_headsign"`
}

type jsonStopTime struct {
	TripId        string        `json:"trip_id"`
	StopId        string        `json:"stop_id"`
	StopSequence  flexibleValue `json:"stop_sequence"`
	ArrivalTime   string        `json:"arrival_time"`
	DepartureTime string        `json:"departure_time"`
}

// LoadScheduleDirectory reads stops.json, trips.json and stop_times.json exports from directory.
// A missing file loads as empty. Records without an id are dropped
func LoadScheduleDirectory(directory string) (*ScheduleData, error) {
	var rawStops []jsonStop
	if err := readJSONFile(filepath.Join(directory, "stops.json"), &rawStops); err != nil {
		return nil, err
	}
	var rawTrips []jsonTrip
	if err := readJSONFile(filepath.Join(directory, "trips.json"), &rawTrips); err != nil {
		return nil, err
	}
	var rawStopTimes []jsonStopTime
	if err := readJSONFile(filepath.Join(directory, "stop_times.json"), &rawStopTimes); err != nil {
		return nil, err
	}

	result := ScheduleData{
		DataSet: &DataSet{URL: directory},
	}
	for _, raw := range rawStops {
		if len(raw.StopId) == 0 {
			continue
		}
		stop := Stop{StopId: raw.StopId, StopName: raw.StopName}
		lat, err := raw.StopLat.float()
		if err != nil {
			return nil, fmt.Errorf("stop %s has invalid stop_lat %q: %w", raw.StopId, raw.StopLat, err)
		}
		lon, err := raw.StopLon.float()
		if err != nil {
			return nil, fmt.Errorf("stop %s has invalid stop_lon %q: %w", raw.StopId, raw.StopLon, err)
		}
		stop.StopLat, stop.StopLon = lat, lon
		result.Stops = append(result.Stops, &stop)
	}

	for _, raw := range rawTrips {
		if len(raw.TripId) == 0 {
			continue
		}
		trip := Trip{TripId: raw.TripId, RouteId: raw.RouteId, ServiceId: raw.ServiceId}
		if len(raw.TripHeadsign) > 0 {
			headsign := raw.TripHeadsign
			trip.TripHeadsign = &headsign
		}
		result.Trips = append(result.Trips, &trip)
	}

	stopTimes := make([]*StopTime, 0, len(rawStopTimes))
	for _, raw := range rawStopTimes {
		if len(raw.TripId) == 0 {
			continue
		}
		st, err := raw.toStopTime()
		if err != nil {
			return nil, err
		}
		stopTimes = append(stopTimes, st)
	}
	result.StopTimes = groupStopTimes(stopTimes)
	return &result, nil
}

func (raw jsonStopTime) toStopTime() (*StopTime, error) {
	st := StopTime{TripId: raw.TripId, StopId: raw.StopId}
	if len(raw.StopSequence) > 0 {
		sequence, err := strconv.ParseUint(string(raw.StopSequence), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("trip %s has invalid stop_sequence %q: %w", raw.TripId, raw.StopSequence, err)
		}
		st.StopSequence = uint32(sequence)
	}
	var err error
	if st.ArrivalTime, err = ParseScheduleTime(raw.ArrivalTime); err != nil {
		return nil, fmt.Errorf("trip %s arrival_time: %w", raw.TripId, err)
	}
	if st.DepartureTime, err = ParseScheduleTime(raw.DepartureTime); err != nil {
		return nil, fmt.Errorf("trip %s departure_time: %w", raw.TripId, err)
	}
	return &st, nil
}

// readJSONFile decodes fileName into target, leaving target untouched if the file does not exist
func readJSONFile(fileName string, target interface{}) error {
	data, err := os.ReadFile(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", fileName, err)
	}
	if err = json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unable to parse %s: %w", fileName, err)
	}
	return nil
}

// FormatScheduleTime renders seconds from the start of the service day as "HH:MM:SS". Hours may exceed 23
func FormatScheduleTime(seconds *int) string {
	if seconds == nil {
		return ""
	}
	s := *seconds
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// WriteScheduleDirectory writes data as stops.json, trips.json and stop_times.json in directory, in the layout
// LoadScheduleDirectory reads. Stop times are written trip by trip in the order of data.Trips, followed by any
// trips without a trip record
func WriteScheduleDirectory(directory string, data *ScheduleData) error {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("unable to create %s: %w", directory, err)
	}

	stops := make([]map[string]interface{}, 0, len(data.Stops))
	for _, stop := range data.Stops {
		record := map[string]interface{}{
			"stop_id":   stop.StopId,
			"stop_name": stop.StopName,
		}
		if stop.HasLocation() {
			record["stop_lat"] = *stop.StopLat
			record["stop_lon"] = *stop.StopLon
		}
		stops = append(stops, record)
	}
	if err := writeJSONFile(filepath.Join(directory, "stops.json"), stops); err != nil {
		return err
	}

	trips := make([]jsonTrip, 0, len(data.Trips))
	written := make(map[string]bool, len(data.Trips))
	tripOrder := make([]string, 0, len(data.StopTimes))
	for _, trip := range data.Trips {
		record := jsonTrip{TripId: trip.TripId, RouteId: trip.RouteId, ServiceId: trip.ServiceId}
		if trip.TripHeadsign != nil {
			record.TripHeadsign = *trip.TripHeadsign
		}
		trips = append(trips, record)
		if !written[trip.TripId] {
			written[trip.TripId] = true
			tripOrder = append(tripOrder, trip.TripId)
		}
	}
	if err := writeJSONFile(filepath.Join(directory, "trips.json"), trips); err != nil {
		return err
	}

	var orphans []string
	for tripId := range data.StopTimes {
		if !written[tripId] {
			orphans = append(orphans, tripId)
		}
	}
	sort.Strings(orphans)
	tripOrder = append(tripOrder, orphans...)

	stopTimes := make([]map[string]interface{}, 0, data.StopTimeCount())
	for _, tripId := range tripOrder {
		for _, st := range data.StopTimes[tripId] {
			stopTimes = append(stopTimes, map[string]interface{}{
				"trip_id":        st.TripId,
				"stop_id":        st.StopId,
				"stop_sequence":  st.StopSequence,
				"arrival_time":   FormatScheduleTime(st.ArrivalTime),
				"departure_time": FormatScheduleTime(st.DepartureTime),
			})
		}
	}
	return writeJSONFile(filepath.Join(directory, "stop_times.json"), stopTimes)
}

func writeJSONFile(fileName string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode %s: %w", fileName, err)
	}
	if err = os.WriteFile(fileName, data, 0o644); err != nil {
		return fmt.Errorf("unable to write %s: %w", fileName, err)
	}
	return nil
}
