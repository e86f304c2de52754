// Package stationlink maps station identifiers of a live feed onto static schedule stop ids.
package stationlink

import (
	"log"
	"math"
	"strings"

	"github.com/OpenTransitTools/traintracker/business/schedule"
)

const (
	// ExactTierMeters is the distance below which a nearest stop is accepted without comment
	ExactTierMeters = 300.0
	// FallbackTierMeters is the distance below which a nearest stop is still accepted, with a warning
	FallbackTierMeters = 500.0
)

// Provenance records how a Link was established
type Provenance int

const (
	Override Provenance = iota + 1
	ExactTier
	FallbackTier
)

func (p Provenance) String() string {
	switch p {
	case Override:
		return "override"
	case ExactTier:
		return "exact-tier"
	case FallbackTier:
		return "fallback-tier"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so Provenance appears by name in json
func (p Provenance) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ForeignStation is a station as published by the live feed. Lat and Lon are nil when not published
type ForeignStation struct {
	Id   string   `json:"id"`
	Name string   `json:"name"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

func (f *ForeignStation) located() bool {
	return f.Lat != nil && f.Lon != nil
}

// Link maps a foreign station id onto a static stop id
type Link struct {
	ForeignId      string     `json:"foreign_id"`
	StopId         string     `json:"stop_id"`
	Provenance     Provenance `json:"provenance"`
	DistanceMeters float64    `json:"distance_meters"`
}

// Summary counts the outcome of ResolveAll
type Summary struct {
	Stations  int `json:"stations"`
	Overrides int `json:"overrides"`
	Exact     int `json:"exact"`
	Fallback  int `json:"fallback"`
	Unlinked  int `json:"unlinked"`
}

// Reconciler holds links computed once at load time. It is read only after ResolveAll returns
type Reconciler struct {
	links   map[string]Link
	summary Summary
}

// ResolveAll links every foreign station to a static stop.
// An entry in overrides wins outright. Otherwise the nearest located stop is linked when it is under
// FallbackTierMeters away. Stations without coordinates can only be linked by override.
func ResolveAll(log *log.Logger,
	stations []ForeignStation,
	stops []schedule.Stop,
	overrides map[string]string) *Reconciler {

	r := Reconciler{
		links: make(map[string]Link, len(stations)),
	}
	for _, station := range stations {
		r.summary.Stations++
		if stopId, present := overrides[station.Id]; present {
			r.links[station.Id] = Link{ForeignId: station.Id, StopId: stopId, Provenance: Override}
			r.summary.Overrides++
			continue
		}
		if !station.located() {
			r.summary.Unlinked++
			continue
		}
		stopId, distance, found := nearestStop(*station.Lat, *station.Lon, stops)
		switch {
		case found && distance < ExactTierMeters:
			r.links[station.Id] = Link{ForeignId: station.Id, StopId: stopId, Provenance: ExactTier,
				DistanceMeters: distance}
			r.summary.Exact++
		case found && distance < FallbackTierMeters:
			r.links[station.Id] = Link{ForeignId: station.Id, StopId: stopId, Provenance: FallbackTier,
				DistanceMeters: distance}
			r.summary.Fallback++
			log.Printf("station %s linked to stop %s at %.0fm", station.Id, stopId, distance)
		default:
			r.summary.Unlinked++
		}
	}
	log.Printf("linked %d/%d stations (%dm), %d (%dm), %d overrides",
		r.summary.Exact, r.summary.Stations, int(ExactTierMeters),
		r.summary.Fallback, int(FallbackTierMeters), r.summary.Overrides)
	return &r
}

// nearestStop finds the located stop closest to lat, lon
func nearestStop(lat float64, lon float64, stops []schedule.Stop) (string, float64, bool) {
	bestId := ""
	bestDistance := math.Inf(1)
	for _, stop := range stops {
		if !stop.Located {
			continue
		}
		d := DistanceMeters(lat, lon, stop.Lat, stop.Lng)
		if d < bestDistance {
			bestDistance = d
			bestId = stop.StopId
		}
	}
	return bestId, bestDistance, len(bestId) > 0
}

// StaticStopId returns the static stop id linked to foreignId
func (r *Reconciler) StaticStopId(foreignId string) (string, bool) {
	link, ok := r.links[foreignId]
	return link.StopId, ok
}

// Link returns the full Link for foreignId
func (r *Reconciler) Link(foreignId string) (Link, bool) {
	link, ok := r.links[foreignId]
	return link, ok
}

// Summary returns the counts recorded by ResolveAll
func (r *Reconciler) Summary() Summary {
	return r.summary
}

// Landmark is a named point from a higher resolution geographic dataset
type Landmark struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// EnhanceCoordinates replaces a station's coordinates with those of the first landmark whose name contains the
// station name or is contained by it. Matching is textual only and depends on landmark order, so two landmarks
// sharing a substring can move a station to the wrong place.
// Returns a new slice and the number of stations changed
func EnhanceCoordinates(stations []ForeignStation, landmarks []Landmark) ([]ForeignStation, int) {
	results := make([]ForeignStation, len(stations))
	copy(results, stations)
	changed := 0
	for i := range results {
		name := results[i].Name
		if len(name) == 0 {
			continue
		}
		for _, landmark := range landmarks {
			if len(landmark.Name) == 0 {
				continue
			}
			if strings.Contains(landmark.Name, name) || strings.Contains(name, landmark.Name) {
				lat, lon := landmark.Lat, landmark.Lon
				results[i].Lat = &lat
				results[i].Lon = &lon
				changed++
				break
			}
		}
	}
	return results, changed
}
