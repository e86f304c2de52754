// Package interpolate places a vehicle along a static trip from either a reported delay or an absolute time.
package interpolate

import (
	"log"

	"github.com/OpenTransitTools/traintracker/business/schedule"
)

// MaxDelaySeconds bounds reported delays in either direction
const MaxDelaySeconds = 600

// Locator provides coordinates for static stop ids
type Locator interface {
	Location(stopId string) (lat float64, lng float64, ok bool)
}

// Position is an estimated vehicle location.
// ToStopId is empty when the vehicle is held at a single stop. SegmentDeparture and SegmentArrival are schedule
// seconds and only meaningful when HasSegmentTimes is true
type Position struct {
	Lat              float64
	Lng              float64
	Progress         float64
	FromStopId       string
	ToStopId         string
	Interpolated     bool
	SegmentDeparture int
	SegmentArrival   int
	HasSegmentTimes  bool
}

// Interpolator computes Positions against a set of located stops
type Interpolator struct {
	log   *log.Logger
	stops Locator
}

// New creates an Interpolator
func New(log *log.Logger, stops Locator) *Interpolator {
	return &Interpolator{log: log, stops: stops}
}

// ClampDelay limits delaySeconds to ±MaxDelaySeconds, returning true if it was changed
func ClampDelay(delaySeconds int) (int, bool) {
	switch {
	case delaySeconds > MaxDelaySeconds:
		return MaxDelaySeconds, true
	case delaySeconds < -MaxDelaySeconds:
		return -MaxDelaySeconds, true
	}
	return delaySeconds, false
}

// Progress returns the fraction of the way from departure to arrival at t, clamped to [0,1].
// Zero or negative durations produce 0
func Progress(t int, departure int, arrival int) float64 {
	duration := arrival - departure
	if duration <= 0 {
		return 0
	}
	p := float64(t-departure) / float64(duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func lerp(from float64, to float64, fraction float64) float64 {
	return from + (to-from)*fraction
}

// AtStop places a vehicle stationary at stopId with progress
func (i *Interpolator) AtStop(stopId string, progress float64) (Position, bool) {
	lat, lng, ok := i.stops.Location(stopId)
	if !ok {
		return Position{}, false
	}
	return Position{Lat: lat, Lng: lng, Progress: progress, FromStopId: stopId}, true
}

// segment builds a Position between two stops at t
func (i *Interpolator) segment(fromStopId string, toStopId string, departure int, arrival int, t int) (Position, bool) {
	fromLat, fromLng, ok := i.stops.Location(fromStopId)
	if !ok {
		return Position{}, false
	}
	toLat, toLng, ok := i.stops.Location(toStopId)
	if !ok {
		return Position{}, false
	}
	progress := Progress(t, departure, arrival)
	return Position{
		Lat:              lerp(fromLat, toLat, progress),
		Lng:              lerp(fromLng, toLng, progress),
		Progress:         progress,
		FromStopId:       fromStopId,
		ToStopId:         toStopId,
		Interpolated:     arrival > departure,
		SegmentDeparture: departure,
		SegmentArrival:   arrival,
		HasSegmentTimes:  true,
	}, true
}

// FromDelay positions a vehicle reported between fromStopId and toStopId running delaySeconds late.
// When the stops are not found in ascending order on trip, or trip is nil, the vehicle is held at fromStopId
func (i *Interpolator) FromDelay(trip *schedule.Trip,
	daySeconds int,
	fromStopId string,
	toStopId string,
	delaySeconds int) (Position, bool) {

	delay, clamped := ClampDelay(delaySeconds)
	if clamped {
		i.log.Printf("delay of %ds clamped to %ds", delaySeconds, delay)
	}
	if trip == nil {
		return i.AtStop(fromStopId, 0)
	}
	anchors := trip.Anchors(fromStopId, toStopId)
	if !anchors.Ascending() {
		return i.AtStop(fromStopId, 0)
	}
	departure, depOk := trip.Visits[anchors.From].DepartureOrArrival()
	arrival, arrOk := trip.Visits[anchors.To].ArrivalOrDeparture()
	if !depOk || !arrOk {
		return i.AtStop(fromStopId, 0)
	}
	position, ok := i.segment(fromStopId, toStopId, departure+delay, arrival+delay, daySeconds)
	if !ok {
		return i.AtStop(fromStopId, 0)
	}
	return position, true
}

// FromTimestamp positions a vehicle on trip at daySeconds using the schedule alone.
// The first consecutive pair of visits whose times bracket daySeconds is used. Outside the trip's times the
// vehicle is held at the first stop (progress 0) or last stop (progress 1)
func (i *Interpolator) FromTimestamp(trip *schedule.Trip, daySeconds int) (Position, bool) {
	if trip == nil || len(trip.Visits) < 2 {
		return Position{}, false
	}
	for v := 0; v < len(trip.Visits)-1; v++ {
		from, to := trip.Visits[v], trip.Visits[v+1]
		departure, ok := from.DepartureOrArrival()
		if !ok {
			continue
		}
		arrival, ok := to.ArrivalOrDeparture()
		if !ok {
			continue
		}
		if departure <= daySeconds && daySeconds <= arrival {
			if position, ok := i.segment(from.StopId, to.StopId, departure, arrival, daySeconds); ok {
				return position, true
			}
		}
	}

	if firstDeparture, ok := firstValid(trip.Visits, schedule.StopVisit.DepartureOrArrival); ok &&
		daySeconds < firstDeparture {
		return i.heldAt(trip.Visits[0].StopId, 0, firstDeparture)
	}
	if lastArrival, ok := lastValid(trip.Visits, schedule.StopVisit.ArrivalOrDeparture); ok &&
		daySeconds > lastArrival {
		return i.heldAt(trip.Visits[len(trip.Visits)-1].StopId, 1, lastArrival)
	}
	return Position{}, false
}

func (i *Interpolator) heldAt(stopId string, progress float64, at int) (Position, bool) {
	position, ok := i.AtStop(stopId, progress)
	if !ok {
		return position, false
	}
	position.SegmentDeparture = at
	position.SegmentArrival = at
	position.HasSegmentTimes = true
	return position, true
}

func firstValid(visits []schedule.StopVisit, get func(schedule.StopVisit) (int, bool)) (int, bool) {
	for _, v := range visits {
		if t, ok := get(v); ok {
			return t, true
		}
	}
	return 0, false
}

func lastValid(visits []schedule.StopVisit, get func(schedule.StopVisit) (int, bool)) (int, bool) {
	for v := len(visits) - 1; v >= 0; v-- {
		if t, ok := get(visits[v]); ok {
			return t, true
		}
	}
	return 0, false
}
