// Package types contains the core data types shared across corsmon packages.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Status is the operational state of a CORS station as observed in one
// polling cycle. Unknown is a real status: the remote side answered but the
// station reported nothing usable, which is itself worth tracking.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Valid reports whether s is one of the three recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusUnknown:
		return true
	}
	return false
}

// Station is a fixed GNSS ground reference unit. The province is inferred
// from the leading letters of the station code ("HNI1" -> "HNI"). Stations
// are registered from the remote station list and never deleted; only the
// whitelist flag changes after registration.
type Station struct {
	ID             string
	Name           string
	ProvincePrefix string
	Whitelisted    bool
}

// Sample is one observation of one station at one polling tick. Append-only.
type Sample struct {
	StationID      string
	Timestamp      time.Time
	Status         Status
	UserCount      int
	FixedUserCount int
}

// Validate checks the per-sample invariants. A sample that fails validation
// is malformed input and must never be persisted.
func (s *Sample) Validate() error {
	if s.StationID == "" {
		return errors.New("sample has empty station id")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("sample for %s has invalid status %q", s.StationID, s.Status)
	}
	if s.UserCount < 0 || s.FixedUserCount < 0 {
		return fmt.Errorf("sample for %s has negative user counts", s.StationID)
	}
	if s.FixedUserCount > s.UserCount {
		return fmt.Errorf("sample for %s has fixed_user_count %d > user_count %d",
			s.StationID, s.FixedUserCount, s.UserCount)
	}
	return nil
}

// FixedRate returns the sample's fixed rate as a percentage, 0 when no users
// were observed.
func (s *Sample) FixedRate() float64 {
	if s.UserCount == 0 {
		return 0
	}
	return float64(s.FixedUserCount) / float64(s.UserCount) * 100
}

// TransitionEvent records a detected change in a station's status between
// two consecutive samples. Events are derived, never edited.
type TransitionEvent struct {
	StationID      string
	PreviousStatus Status
	NewStatus      Status
	Timestamp      time.Time
	// Downtime is how long the station had been in its previous bad state,
	// zero when unknown or not applicable.
	Downtime time.Duration
}

// DownStation is a station whose last confirmed status is not online, with
// when it entered that state. Used for the still-down section of status
// reports, which keeps long outages visible after their single edge event.
type DownStation struct {
	StationID string
	Status    Status
	Since     time.Time
}

// Scope selects which stations a report covers.
type Scope string

const (
	ScopeFleet    Scope = "fleet"
	ScopeProvince Scope = "province"
	ScopeStation  Scope = "station"
)

// Valid reports whether s is one of the three recognized scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeFleet, ScopeProvince, ScopeStation:
		return true
	}
	return false
}

// Report is a computed, non-persisted summary of samples over a time window.
type Report struct {
	Scope              Scope
	Key                string // province prefix or station id, empty for fleet
	WindowStart        time.Time
	WindowEnd          time.Time
	SampleCount        int
	FixedRatePct       float64
	AvgUsers           float64
	AvgFixedUsers      float64
	ActiveStationCount int
}

// ErrNoData indicates a report scope that matches zero known stations. It is
// distinct from "zero observed users", which yields a valid zero-rate report.
var ErrNoData = errors.New("no known stations in scope")

// ProvincePrefix derives the province code from a station code: the longest
// leading run of letters, uppercased. Returns "" for codes with no leading
// letters.
func ProvincePrefix(code string) string {
	for i, r := range code {
		if !unicode.IsLetter(r) {
			return strings.ToUpper(code[:i])
		}
	}
	return strings.ToUpper(code)
}
