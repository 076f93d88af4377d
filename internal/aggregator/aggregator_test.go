package aggregator

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vietrtk/corsmon/internal/types"
)

type fakeStore struct {
	stations []types.Station
	samples  []types.Sample
}

func (f *fakeStore) ReportWindow(start, end time.Time) ([]types.Station, []types.Sample, error) {
	var out []types.Sample
	for _, s := range f.samples {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			out = append(out, s)
		}
	}
	return f.stations, out, nil
}

func testStations() []types.Station {
	return []types.Station{
		{ID: "HNI1", Name: "Ha Noi 1", ProvincePrefix: "HNI", Whitelisted: true},
		{ID: "HNI2", Name: "Ha Noi 2", ProvincePrefix: "HNI", Whitelisted: true},
		{ID: "PYN1", Name: "Phu Yen 1", ProvincePrefix: "PYN", Whitelisted: false},
	}
}

func TestComputeReportFixedRate(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{stations: testStations()}
	for i := 0; i < 10; i++ {
		store.samples = append(store.samples, types.Sample{
			StationID:      "HNI1",
			Timestamp:      base.Add(time.Duration(i) * 5 * time.Minute),
			Status:         types.StatusOnline,
			UserCount:      100,
			FixedUserCount: 80,
		})
	}

	agg := New(store)
	report, err := agg.ComputeReport(types.ScopeFleet, "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if report.SampleCount != 10 {
		t.Errorf("SampleCount = %d, want 10", report.SampleCount)
	}
	if report.FixedRatePct != 80.0 {
		t.Errorf("FixedRatePct = %v, want 80.0", report.FixedRatePct)
	}
	if report.AvgUsers != 100.0 {
		t.Errorf("AvgUsers = %v, want 100.0", report.AvgUsers)
	}
	if report.AvgFixedUsers != 80.0 {
		t.Errorf("AvgFixedUsers = %v, want 80.0", report.AvgFixedUsers)
	}
	if report.ActiveStationCount != 1 {
		t.Errorf("ActiveStationCount = %d, want 1", report.ActiveStationCount)
	}
}

func TestComputeReportEmptyWindowIsZeroNotError(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{stations: testStations()}

	agg := New(store)
	report, err := agg.ComputeReport(types.ScopeFleet, "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("empty window must not error, got %v", err)
	}
	if report.SampleCount != 0 || report.FixedRatePct != 0 || report.AvgUsers != 0 {
		t.Errorf("empty window report = %+v, want all zero", report)
	}
}

func TestComputeReportEmptyScopeIsErrNoData(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{stations: testStations()}
	agg := New(store)

	_, err := agg.ComputeReport(types.ScopeProvince, "DNG", base, base.Add(time.Hour))
	if !errors.Is(err, types.ErrNoData) {
		t.Fatalf("unknown province error = %v, want ErrNoData", err)
	}

	// No stations at all: fleet scope is empty too.
	empty := New(&fakeStore{})
	_, err = empty.ComputeReport(types.ScopeFleet, "", base, base.Add(time.Hour))
	if !errors.Is(err, types.ErrNoData) {
		t.Fatalf("empty fleet error = %v, want ErrNoData", err)
	}
}

func TestComputeReportScopes(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{stations: testStations(), samples: []types.Sample{
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 10, FixedUserCount: 5},
		{StationID: "HNI2", Timestamp: base, Status: types.StatusOffline},
		{StationID: "PYN1", Timestamp: base, Status: types.StatusOnline, UserCount: 4, FixedUserCount: 4},
	}}
	agg := New(store)
	end := base.Add(time.Hour)

	// Fleet covers only whitelisted stations, so PYN1 is excluded.
	fleet, err := agg.ComputeReport(types.ScopeFleet, "", base, end)
	if err != nil {
		t.Fatal(err)
	}
	if fleet.SampleCount != 2 {
		t.Errorf("fleet SampleCount = %d, want 2", fleet.SampleCount)
	}

	// Province scope ignores the whitelist and is case-insensitive.
	prov, err := agg.ComputeReport(types.ScopeProvince, "pyn", base, end)
	if err != nil {
		t.Fatal(err)
	}
	if prov.SampleCount != 1 || prov.FixedRatePct != 100.0 {
		t.Errorf("province report = %+v, want 1 sample at 100%%", prov)
	}

	station, err := agg.ComputeReport(types.ScopeStation, "hni1", base, end)
	if err != nil {
		t.Fatal(err)
	}
	if station.SampleCount != 1 || station.FixedRatePct != 50.0 {
		t.Errorf("station report = %+v, want 1 sample at 50%%", station)
	}

	if _, err := agg.ComputeReport(types.ScopeProvince, "", base, end); err == nil {
		t.Error("province scope without a prefix should error")
	}
	if _, err := agg.ComputeReport(types.Scope("region"), "", base, end); err == nil {
		t.Error("unknown scope should error")
	}
}

func TestComputeReportIsPure(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{stations: testStations(), samples: []types.Sample{
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 7, FixedUserCount: 3},
	}}
	agg := New(store)

	first, err := agg.ComputeReport(types.ScopeFleet, "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	second, err := agg.ComputeReport(types.ScopeFleet, "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical calls diverged: %+v vs %+v", first, second)
	}
}
