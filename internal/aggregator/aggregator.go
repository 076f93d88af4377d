// Package aggregator computes fixed-rate and availability rollups over a
// sample window at station, province or fleet scope.
package aggregator

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vietrtk/corsmon/internal/types"
)

// Store is the read-only slice of the sample store reports are computed
// from. ReportWindow must return the registry and the windowed samples as
// one consistent snapshot.
type Store interface {
	ReportWindow(start, end time.Time) ([]types.Station, []types.Sample, error)
}

// Aggregator computes reports. It holds no state of its own: two calls with
// identical arguments against an unchanged store return identical results.
type Aggregator struct {
	store Store
}

// New creates an Aggregator over the given store.
func New(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// ComputeReport builds a report for the scope over [start, end). key is the
// province prefix or station id and is ignored for fleet scope. Returns
// types.ErrNoData only when the scope matches zero known stations; an
// in-scope station with no samples in the window contributes zero.
func (a *Aggregator) ComputeReport(scope types.Scope, key string, start, end time.Time) (*types.Report, error) {
	stations, samples, err := a.store.ReportWindow(start, end)
	if err != nil {
		return nil, err
	}

	ids, err := resolveScope(scope, key, stations)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s %q", types.ErrNoData, scope, key)
	}
	inScope := make(map[string]bool, len(ids))
	for _, id := range ids {
		inScope[id] = true
	}

	var totalUsers, totalFixed int
	var included int
	users := make([]float64, 0, len(samples))
	fixed := make([]float64, 0, len(samples))
	activeStations := make(map[string]struct{})
	for _, s := range samples {
		if !inScope[s.StationID] {
			continue
		}
		included++
		totalUsers += s.UserCount
		totalFixed += s.FixedUserCount
		users = append(users, float64(s.UserCount))
		fixed = append(fixed, float64(s.FixedUserCount))
		if s.Status == types.StatusOnline {
			activeStations[s.StationID] = struct{}{}
		}
	}

	report := &types.Report{
		Scope:              scope,
		Key:                key,
		WindowStart:        start,
		WindowEnd:          end,
		SampleCount:        included,
		ActiveStationCount: len(activeStations),
	}
	// Zero observed users is a valid zero rate, not an error.
	if totalUsers > 0 {
		report.FixedRatePct = float64(totalFixed) / float64(totalUsers) * 100
	}
	if included > 0 {
		report.AvgUsers = stat.Mean(users, nil)
		report.AvgFixedUsers = stat.Mean(fixed, nil)
	}
	return report, nil
}

// resolveScope maps a scope onto the station ids it covers. Scope filtering
// lives here and nowhere else.
func resolveScope(scope types.Scope, key string, stations []types.Station) ([]string, error) {
	var ids []string
	switch scope {
	case types.ScopeFleet:
		for _, st := range stations {
			if st.Whitelisted {
				ids = append(ids, st.ID)
			}
		}
	case types.ScopeProvince:
		prefix := strings.ToUpper(strings.TrimSpace(key))
		if prefix == "" {
			return nil, fmt.Errorf("province scope requires a prefix")
		}
		for _, st := range stations {
			if st.ProvincePrefix == prefix {
				ids = append(ids, st.ID)
			}
		}
	case types.ScopeStation:
		id := strings.ToUpper(strings.TrimSpace(key))
		for _, st := range stations {
			if strings.ToUpper(st.ID) == id {
				ids = append(ids, st.ID)
				break
			}
		}
	default:
		return nil, fmt.Errorf("unknown report scope %q", scope)
	}
	return ids, nil
}
