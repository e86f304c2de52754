// Package tripmatch resolves trip identifiers reported by a live feed to static schedule trips.
package tripmatch

import (
	"regexp"
	"strings"
	"sync"

	"github.com/OpenTransitTools/traintracker/business/schedule"
)

// CacheTTLSeconds is how long a resolved match is reused for the same foreign trip id
const CacheTTLSeconds = 900

const (
	anchorFoundBonus    = 10000
	ascendingBonus      = 1000
	reversedPenalty     = 10000
	shortSegmentPenalty = 5000
	shortSegmentSeconds = 60
	withinSegmentBonus  = 3000
	// missingTimePenalty stands in for the time distance of a candidate with no first departure
	missingTimePenalty = 2 * 86400
	// strongScore is exceeded only when both anchors were found
	strongScore = 2 * anchorFoundBonus
	// clockSkewSeconds is how far a feed's timestamps may run ahead of the local clock
	clockSkewSeconds = 300
)

// Reason describes how a Match was produced
type Reason string

const (
	ReasonCacheHit    Reason = "cache-hit"
	ReasonMatched     Reason = "matched"
	ReasonLowScore    Reason = "low-score"
	ReasonNoCandidate Reason = "no-candidate"
	ReasonTimeOnly    Reason = "time-only"
	ReasonExactId     Reason = "exact-id"
)

// StopResolver maps foreign station ids to static stop ids
type StopResolver interface {
	StaticStopId(foreignId string) (string, bool)
}

// Anchors are the foreign station ids bounding the segment a live report says the vehicle is on
type Anchors struct {
	From string
	To   string
}

// Request is a single resolution request. Anchors is nil for feeds that do not report stations
type Request struct {
	ForeignTripId string
	DaySeconds    int
	Anchors       *Anchors
}

// Match is the outcome of Resolve. StaticTripId is empty when nothing could be resolved
type Match struct {
	StaticTripId    string
	Reason          Reason
	Score           int
	Candidates      int
	TrainNumber     string
	LowConfidence   bool
	Detail          string
	CacheAgeSeconds int
}

// Found returns true when a static trip was resolved
func (m Match) Found() bool {
	return len(m.StaticTripId) > 0
}

type cacheEntry struct {
	staticTripId string
	resolvedAt   int
}

// Correlator scores candidate trips sharing a train number and caches results per foreign trip id.
// Safe for concurrent use
type Correlator struct {
	index         *schedule.Index
	stops         StopResolver
	byTrainNumber map[string][]*schedule.Trip

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Correlator, indexing every trip in index by train number in load order
func New(index *schedule.Index, stops StopResolver) *Correlator {
	c := Correlator{
		index:         index,
		stops:         stops,
		byTrainNumber: make(map[string][]*schedule.Trip),
		cache:         make(map[string]cacheEntry),
	}
	for _, trip := range index.Trips() {
		key := TrainNumber(trip.TripId)
		c.byTrainNumber[key] = append(c.byTrainNumber[key], trip)
	}
	return &c
}

var trailingTrainNumber = regexp.MustCompile(`[0-9]+[A-Z]$`)

// TrainNumber normalizes a trip id to the key shared by live and static identifiers.
// "JR-East.Chuo.554M" and "Chuo_554M" both produce "554M"
func TrainNumber(tripId string) string {
	if i := strings.LastIndex(tripId, "."); i >= 0 {
		return tripId[i+1:]
	}
	if match := trailingTrainNumber.FindString(tripId); len(match) > 0 {
		return match
	}
	return tripId
}

// TrainNumberCount returns the number of distinct train numbers indexed
func (c *Correlator) TrainNumberCount() int {
	return len(c.byTrainNumber)
}

// CacheSize returns the number of cached matches
func (c *Correlator) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Prune removes cache entries that would be rejected at daySeconds. Returns the number removed
func (c *Correlator) Prune(daySeconds int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.cache {
		if expired(entry, daySeconds) {
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

// expired reports whether entry is too old at daySeconds. Entries up to clockSkewSeconds in the future are kept,
// larger negative ages mean the service day changed
func expired(entry cacheEntry, daySeconds int) bool {
	age := daySeconds - entry.resolvedAt
	return age > CacheTTLSeconds || age < -clockSkewSeconds
}

// betterCandidate reports whether a candidate scoring s beats the current best.
// Candidates with anchors in travel order always beat those without, whatever the time distance
func betterCandidate(s int, ascending bool, bestScore int, bestAscending bool) bool {
	if ascending != bestAscending {
		return ascending
	}
	return s > bestScore
}

// Resolve finds the static trip for req
func (c *Correlator) Resolve(req Request) Match {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.fromCache(req); ok {
		return m
	}

	trainNumber := TrainNumber(req.ForeignTripId)
	if req.Anchors == nil {
		if _, ok := c.index.Trip(req.ForeignTripId); ok {
			c.cache[req.ForeignTripId] = cacheEntry{staticTripId: req.ForeignTripId, resolvedAt: req.DaySeconds}
			return Match{
				StaticTripId: req.ForeignTripId,
				Reason:       ReasonExactId,
				Candidates:   1,
				TrainNumber:  trainNumber,
				Detail:       "exact",
			}
		}
	}

	candidates := c.byTrainNumber[trainNumber]
	if len(candidates) == 0 {
		return Match{Reason: ReasonNoCandidate, TrainNumber: trainNumber}
	}

	fromStop, toStop := c.resolveAnchors(req.Anchors)
	var best *schedule.Trip
	bestScore := 0
	bestAscending := false
	for _, candidate := range candidates {
		s, ascending := score(candidate, req.DaySeconds, fromStop, toStop)
		if best == nil || betterCandidate(s, ascending, bestScore, bestAscending) {
			best, bestScore, bestAscending = candidate, s, ascending
		}
	}

	m := Match{
		StaticTripId: best.TripId,
		Score:        bestScore,
		Candidates:   len(candidates),
		TrainNumber:  trainNumber,
		Detail:       "partial",
	}
	if bestScore > strongScore {
		m.Detail = "time+from+to+order"
	}
	switch {
	case req.Anchors == nil:
		m.Reason = ReasonTimeOnly
		m.LowConfidence = true
	case bestAscending:
		m.Reason = ReasonMatched
	default:
		m.Reason = ReasonLowScore
		m.LowConfidence = true
		return m
	}
	c.cache[req.ForeignTripId] = cacheEntry{staticTripId: best.TripId, resolvedAt: req.DaySeconds}
	return m
}

// fromCache returns a cached match if one is still fresh and consistent with the request's anchors,
// evicting the entry otherwise
func (c *Correlator) fromCache(req Request) (Match, bool) {
	entry, present := c.cache[req.ForeignTripId]
	if !present {
		return Match{}, false
	}
	if expired(entry, req.DaySeconds) {
		delete(c.cache, req.ForeignTripId)
		return Match{}, false
	}
	trip, ok := c.index.Trip(entry.staticTripId)
	if !ok {
		delete(c.cache, req.ForeignTripId)
		return Match{}, false
	}
	if req.Anchors != nil {
		fromStop, toStop := c.resolveAnchors(req.Anchors)
		if len(fromStop) == 0 || len(toStop) == 0 || !trip.Anchors(fromStop, toStop).Ascending() {
			delete(c.cache, req.ForeignTripId)
			return Match{}, false
		}
	}
	return Match{
		StaticTripId:    entry.staticTripId,
		Reason:          ReasonCacheHit,
		Candidates:      1,
		TrainNumber:     TrainNumber(req.ForeignTripId),
		LowConfidence:   req.Anchors == nil,
		Detail:          "cached",
		CacheAgeSeconds: req.DaySeconds - entry.resolvedAt,
	}, true
}

func (c *Correlator) resolveAnchors(anchors *Anchors) (fromStop string, toStop string) {
	if anchors == nil || c.stops == nil {
		return "", ""
	}
	fromStop, _ = c.stops.StaticStopId(anchors.From)
	toStop, _ = c.stops.StaticStopId(anchors.To)
	return fromStop, toStop
}

// score rates how well trip explains a vehicle seen at daySeconds between fromStop and toStop.
// Also returns whether both stops were found in ascending order
func score(trip *schedule.Trip, daySeconds int, fromStop string, toStop string) (int, bool) {
	s := -missingTimePenalty
	if first, ok := trip.FirstDeparture(); ok {
		s = -abs(daySeconds - first)
	}

	anchors := trip.Anchors(fromStop, toStop)
	if anchors.HasFrom {
		s += anchorFoundBonus
	}
	if anchors.HasTo {
		s += anchorFoundBonus
	}
	if anchors.Reversed() {
		return s - reversedPenalty, false
	}
	if !anchors.Ascending() {
		return s, false
	}

	s += ascendingBonus
	dep, depOk := trip.Visits[anchors.From].DepartureOrArrival()
	arr, arrOk := trip.Visits[anchors.To].ArrivalOrDeparture()
	if depOk && arrOk {
		if arr-dep < shortSegmentSeconds {
			s -= shortSegmentPenalty
		}
		if dep <= daySeconds && daySeconds <= arr {
			s += withinSegmentBonus
		}
	}
	return s, true
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
