package bridge

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ZoneWindow is a quiet (non-working) local-hour window in one
// timezone, half-open [Start, End). End < Start wraps past midnight,
// so [22, 6) covers 22:00..05:59 local.
type ZoneWindow struct {
	Location *time.Location
	Start    int
	End      int
}

func (w ZoneWindow) contains(hour int) bool {
	switch {
	case w.Start == w.End:
		// Empty window, never matches.
		return false
	case w.Start < w.End:
		return hour >= w.Start && hour < w.End
	default:
		return hour >= w.Start || hour < w.End
	}
}

// ParseZoneWindow builds a window from an IANA location name.
func ParseZoneWindow(location string, start, end int) (ZoneWindow, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(location))
	if err != nil {
		return ZoneWindow{}, fmt.Errorf("work hours zone %q: %w", location, err)
	}
	if start < 0 || start > 23 || end < 0 || end > 24 {
		return ZoneWindow{}, fmt.Errorf("work hours zone %q: hours must be within 0..24", location)
	}
	// End stays as given: 24 keeps [start, 24) a plain window, so
	// [0, 24) covers the whole day instead of collapsing to empty.
	return ZoneWindow{Location: loc, Start: start, End: end}, nil
}

// HoursOracle reports whether an instant falls inside the configured
// quiet period. The zones are combined with logical OR: a local hour
// inside ANY zone's window makes the whole deployment "non-working",
// even though the zones belong to different remote teams.
type HoursOracle struct {
	mu    sync.RWMutex
	zones []ZoneWindow
}

func NewHoursOracle(zones []ZoneWindow) *HoursOracle {
	return &HoursOracle{zones: zones}
}

// SetZones replaces the window set (config hot reload).
func (o *HoursOracle) SetZones(zones []ZoneWindow) {
	o.mu.Lock()
	o.zones = zones
	o.mu.Unlock()
}

// IsNonWorking reports whether now falls inside the quiet window of
// any configured zone.
func (o *HoursOracle) IsNonWorking(now time.Time) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, z := range o.zones {
		if z.Location == nil {
			continue
		}
		if z.contains(now.In(z.Location).Hour()) {
			return true
		}
	}
	return false
}
