// Package schedule holds the immutable in memory index of static trips and stops used to place vehicles.
package schedule

import (
	"sort"

	"github.com/OpenTransitTools/traintracker/business/data/gtfs"
)

// StopVisit is one scheduled call of a trip at a stop.
// Arrival and Departure are schedule seconds from the start of the service day, either may be nil
type StopVisit struct {
	StopId    string
	Arrival   *int
	Departure *int
	Sequence  uint32
}

// DepartureOrArrival returns the departure time, falling back to the arrival time
func (v StopVisit) DepartureOrArrival() (int, bool) {
	if v.Departure != nil {
		return *v.Departure, true
	}
	if v.Arrival != nil {
		return *v.Arrival, true
	}
	return 0, false
}

// ArrivalOrDeparture returns the arrival time, falling back to the departure time
func (v StopVisit) ArrivalOrDeparture() (int, bool) {
	if v.Arrival != nil {
		return *v.Arrival, true
	}
	if v.Departure != nil {
		return *v.Departure, true
	}
	return 0, false
}

// Trip is a static scheduled run with its stop visits in sequence order
type Trip struct {
	TripId  string
	RouteId string
	Visits  []StopVisit
}

// FirstDeparture returns the departure (or arrival) time at the first stop
func (t *Trip) FirstDeparture() (int, bool) {
	if len(t.Visits) == 0 {
		return 0, false
	}
	return t.Visits[0].DepartureOrArrival()
}

// AnchorMatch locates a pair of stops inside a trip
type AnchorMatch struct {
	From    int
	To      int
	HasFrom bool
	HasTo   bool
}

// Ascending is true when both stops were found and From comes before To
func (m AnchorMatch) Ascending() bool {
	return m.HasFrom && m.HasTo && m.From < m.To
}

// Reversed is true when both stops were found and To comes before From
func (m AnchorMatch) Reversed() bool {
	return m.HasFrom && m.HasTo && m.From > m.To
}

// Anchors finds fromStopId and toStopId in the trip.
// From is the first visit to fromStopId. To is the first visit to toStopId after From, or its first visit anywhere
// in the trip when none follows, so loop services that call at a stop twice still resolve in travel order
func (t *Trip) Anchors(fromStopId string, toStopId string) AnchorMatch {
	m := AnchorMatch{From: -1, To: -1}
	if len(fromStopId) > 0 {
		for i, visit := range t.Visits {
			if visit.StopId == fromStopId {
				m.From, m.HasFrom = i, true
				break
			}
		}
	}
	if len(toStopId) == 0 {
		return m
	}
	for i, visit := range t.Visits {
		if visit.StopId != toStopId {
			continue
		}
		if !m.HasTo {
			m.To, m.HasTo = i, true
		}
		if m.HasFrom && i > m.From {
			m.To = i
			break
		}
	}
	return m
}

// Stop is a static stop. Located is false when the schedule carried no coordinates
type Stop struct {
	StopId  string
	Name    string
	Lat     float64
	Lng     float64
	Located bool
}

// Index provides read only lookups of trips and stops. Safe for concurrent readers
type Index struct {
	trips        []*Trip
	tripsById    map[string]*Trip
	stops        []Stop
	stopsById    map[string]int
	droppedTrips []string
}

// New builds an Index. Trips keep the order provided, visits are sorted by sequence, and trips with fewer than
// two visits are dropped
func New(stops []Stop, trips []Trip) *Index {
	idx := Index{
		tripsById: make(map[string]*Trip, len(trips)),
		stopsById: make(map[string]int, len(stops)),
	}
	for _, stop := range stops {
		if _, present := idx.stopsById[stop.StopId]; present {
			continue
		}
		idx.stopsById[stop.StopId] = len(idx.stops)
		idx.stops = append(idx.stops, stop)
	}
	for i := range trips {
		trip := trips[i]
		if _, present := idx.tripsById[trip.TripId]; present {
			continue
		}
		if len(trip.Visits) < 2 {
			idx.droppedTrips = append(idx.droppedTrips, trip.TripId)
			continue
		}
		visits := make([]StopVisit, len(trip.Visits))
		copy(visits, trip.Visits)
		sort.SliceStable(visits, func(a, b int) bool {
			return visits[a].Sequence < visits[b].Sequence
		})
		trip.Visits = visits
		idx.tripsById[trip.TripId] = &trip
		idx.trips = append(idx.trips, &trip)
	}
	return &idx
}

// FromScheduleData builds an Index from loaded gtfs records.
// Trips with stop times but no trip record are appended after the listed trips in trip id order
func FromScheduleData(data *gtfs.ScheduleData) *Index {
	stops := make([]Stop, 0, len(data.Stops))
	for _, s := range data.Stops {
		stop := Stop{StopId: s.StopId, Name: s.StopName}
		if s.HasLocation() {
			stop.Lat, stop.Lng, stop.Located = *s.StopLat, *s.StopLon, true
		}
		stops = append(stops, stop)
	}

	trips := make([]Trip, 0, len(data.StopTimes))
	listed := make(map[string]bool, len(data.Trips))
	for _, t := range data.Trips {
		listed[t.TripId] = true
		trips = append(trips, Trip{
			TripId:  t.TripId,
			RouteId: t.RouteId,
			Visits:  makeVisits(data.StopTimes[t.TripId]),
		})
	}
	var unlisted []string
	for tripId := range data.StopTimes {
		if !listed[tripId] {
			unlisted = append(unlisted, tripId)
		}
	}
	sort.Strings(unlisted)
	for _, tripId := range unlisted {
		trips = append(trips, Trip{TripId: tripId, Visits: makeVisits(data.StopTimes[tripId])})
	}
	return New(stops, trips)
}

func makeVisits(stopTimes []*gtfs.StopTime) []StopVisit {
	visits := make([]StopVisit, 0, len(stopTimes))
	for _, st := range stopTimes {
		visits = append(visits, StopVisit{
			StopId:    st.StopId,
			Arrival:   st.ArrivalTime,
			Departure: st.DepartureTime,
			Sequence:  st.StopSequence,
		})
	}
	return visits
}

// Trip returns the trip with tripId
func (idx *Index) Trip(tripId string) (*Trip, bool) {
	trip, ok := idx.tripsById[tripId]
	return trip, ok
}

// Trips returns all trips in load order. The slice must not be modified
func (idx *Index) Trips() []*Trip {
	return idx.trips
}

// Stop returns the stop with stopId
func (idx *Index) Stop(stopId string) (Stop, bool) {
	i, ok := idx.stopsById[stopId]
	if !ok {
		return Stop{}, false
	}
	return idx.stops[i], true
}

// Location returns coordinates of stopId if the stop is known and located
func (idx *Index) Location(stopId string) (lat float64, lng float64, ok bool) {
	stop, found := idx.Stop(stopId)
	if !found || !stop.Located {
		return 0, 0, false
	}
	return stop.Lat, stop.Lng, true
}

// Stops returns all stops. The slice must not be modified
func (idx *Index) Stops() []Stop {
	return idx.stops
}

// DroppedTrips lists trip ids discarded because they had fewer than two stop visits
func (idx *Index) DroppedTrips() []string {
	return idx.droppedTrips
}
