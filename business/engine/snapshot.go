package engine

import "sync/atomic"

// VehiclePosition is the estimated position of one live vehicle.
// StaticTripId and ToStopId are nil when unknown. Segment epochs are zero when the segment times are unknown
type VehiclePosition struct {
	ForeignTripId         string  `json:"foreign_trip_id"`
	StaticTripId          *string `json:"static_trip_id"`
	Lat                   float64 `json:"lat"`
	Lng                   float64 `json:"lng"`
	Progress              float64 `json:"progress"`
	FromStopId            string  `json:"from_stop_id"`
	ToStopId              *string `json:"to_stop_id"`
	Interpolated          bool    `json:"interpolated"`
	SegmentDepartureEpoch int64   `json:"segment_departure_epoch"`
	SegmentArrivalEpoch   int64   `json:"segment_arrival_epoch"`
	ResolutionReason      string  `json:"resolution_reason"`
	ResolutionScore       int     `json:"resolution_score"`
	LowConfidence         bool    `json:"low_confidence"`
	MatchDetail           string  `json:"match_detail,omitempty"`
	FromStation           string  `json:"from_station,omitempty"`
	ToStation             string  `json:"to_station,omitempty"`
	DelaySeconds          *int    `json:"delay_seconds,omitempty"`
}

// Snapshot is the complete result of one cycle. A published Snapshot is never modified
type Snapshot struct {
	Seq                  uint64            `json:"seq"`
	Timestamp            int64             `json:"timestamp"`
	Shape                FeedShape         `json:"shape"`
	ServiceDayStartEpoch int64             `json:"service_day_start_epoch"`
	CurrentTimeSec       int               `json:"current_time_sec"`
	Vehicles             []VehiclePosition `json:"vehicles"`
	Stats                CycleStats        `json:"stats"`
}

// SnapshotStore hands the latest Snapshot from the single writer to any number of readers
type SnapshotStore struct {
	current atomic.Pointer[Snapshot]
}

// Publish replaces the current Snapshot
func (s *SnapshotStore) Publish(snapshot *Snapshot) {
	s.current.Store(snapshot)
}

// Latest returns the most recently published Snapshot, nil before the first Publish
func (s *SnapshotStore) Latest() *Snapshot {
	return s.current.Load()
}
