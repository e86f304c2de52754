package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// getDLSTransitionSeconds provides the number of seconds offset for a 12am date later in the day after day light saving time is done
func getDLSTransitionSeconds(timeAt12 time.Time) int {
	before := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 0, 0, 0, 0, timeAt12.Location())
	after := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 5, 0, 0, 0, timeAt12.Location())
	_, beforeOffset := before.Zone()
	_, afterOffset := after.Zone()
	return afterOffset - beforeOffset
}

// MakeScheduleTime produces a time from by adding seconds to a 12am date. Takes into account day light saving time
func MakeScheduleTime(timeAt12 time.Time, scheduleSeconds int) time.Time {
	offset := getDLSTransitionSeconds(timeAt12)
	scheduleSeconds = scheduleSeconds + (0 - offset)
	return timeAt12.Add(time.Duration(scheduleSeconds) * time.Second)
}

func Get12AmTime(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

// ParseScheduleTime converts a gtfs "HH:MM:SS" value into seconds from the start of the service day.
// Hours past 23 are allowed. An empty value produces nil
func ParseScheduleTime(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return nil, nil
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid schedule time %q", value)
	}
	seconds := 0
	for i, multiplier := range []int{3600, 60, 1} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid schedule time %q", value)
		}
		seconds += n * multiplier
	}
	return &seconds, nil
}

// ServiceClock converts wall clock times to schedule seconds.
// A service day starts at 12am in Location but is still current until RolloverHour the next morning,
// so a time of 00:30 with a RolloverHour of 3 belongs to the previous service day at 87000 seconds
type ServiceClock struct {
	Location     *time.Location
	RolloverHour int
}

// ServiceDate returns 12am of the service day that at belongs to
func (c ServiceClock) ServiceDate(at time.Time) time.Time {
	local := at.In(c.location())
	date := Get12AmTime(local)
	if local.Hour() < c.RolloverHour {
		date = Get12AmTime(date.AddDate(0, 0, -1))
	}
	return date
}

// DaySeconds returns the schedule seconds of at on its service day and the epoch seconds where that service day's
// schedule time zero falls
func (c ServiceClock) DaySeconds(at time.Time) (int, int64) {
	start := MakeScheduleTime(c.ServiceDate(at), 0).Unix()
	return int(at.Unix() - start), start
}

func (c ServiceClock) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
