package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vietrtk/corsmon/internal/types"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "corsmon-test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func registerStations(t *testing.T, c *Client, ids ...string) {
	t.Helper()
	stations := make([]types.Station, 0, len(ids))
	for _, id := range ids {
		stations = append(stations, types.Station{
			ID:             id,
			Name:           "Station " + id,
			ProvincePrefix: types.ProvincePrefix(id),
		})
	}
	if err := c.UpsertStations(stations); err != nil {
		t.Fatalf("failed to register stations: %v", err)
	}
}

func TestInsertAndQuerySamples(t *testing.T) {
	c := openTestClient(t)
	registerStations(t, c, "HNI1", "PYN1")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	samples := []types.Sample{
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 10, FixedUserCount: 8},
		{StationID: "HNI1", Timestamp: base.Add(5 * time.Minute), Status: types.StatusOffline},
		{StationID: "PYN1", Timestamp: base, Status: types.StatusUnknown},
	}
	n, err := c.InsertSamples(samples)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("inserted %d samples, want 3", n)
	}

	latest, err := c.LatestSamples()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 {
		t.Fatalf("got latest samples for %d stations, want 2", len(latest))
	}
	if latest["HNI1"].Status != types.StatusOffline {
		t.Errorf("HNI1 latest status = %s, want offline", latest["HNI1"].Status)
	}
	if !latest["HNI1"].Timestamp.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("HNI1 latest ts = %v, want %v", latest["HNI1"].Timestamp, base.Add(5*time.Minute))
	}

	one, err := c.LatestSampleFor("PYN1")
	if err != nil {
		t.Fatal(err)
	}
	if one == nil || one.Status != types.StatusUnknown {
		t.Errorf("LatestSampleFor(PYN1) = %+v, want unknown sample", one)
	}
	none, err := c.LatestSampleFor("DNG1")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("LatestSampleFor on unseen station = %+v, want nil", none)
	}

	window, err := c.SamplesInWindow([]string{"HNI1"}, base, base.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	// End bound is exclusive, so only the first HNI1 sample qualifies.
	if len(window) != 1 || window[0].UserCount != 10 {
		t.Errorf("window = %+v, want the single online sample", window)
	}
}

func TestInsertSamplesRejectsWholeBatch(t *testing.T) {
	c := openTestClient(t)
	registerStations(t, c, "HNI1")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	n, err := c.InsertSamples([]types.Sample{
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 10, FixedUserCount: 8},
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 5, FixedUserCount: 6},
	})
	if err == nil {
		t.Fatal("batch with a malformed sample must fail")
	}
	if n != 0 {
		t.Errorf("reported %d inserted rows on failure, want 0", n)
	}

	latest, err := c.LatestSamples()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 0 {
		t.Errorf("store has %d samples after rejected batch, want 0", len(latest))
	}
}

func TestUpsertStationsPreservesWhitelist(t *testing.T) {
	c := openTestClient(t)
	registerStations(t, c, "HNI1")

	if err := c.SetWhitelisted("HNI1", true); err != nil {
		t.Fatal(err)
	}

	// A poll re-registers the station with a fresh name; the flag survives.
	if err := c.UpsertStations([]types.Station{{ID: "HNI1", Name: "Ha Noi Central", ProvincePrefix: "HNI"}}); err != nil {
		t.Fatal(err)
	}

	stations, err := c.Stations()
	if err != nil {
		t.Fatal(err)
	}
	if len(stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(stations))
	}
	if !stations[0].Whitelisted {
		t.Error("whitelist flag lost on re-registration")
	}
	if stations[0].Name != "Ha Noi Central" {
		t.Errorf("name = %q, want updated name", stations[0].Name)
	}
}

func TestSetWhitelistedUnknownStation(t *testing.T) {
	c := openTestClient(t)
	if err := c.SetWhitelisted("NOPE", true); err == nil {
		t.Fatal("whitelisting an unregistered station must fail")
	}
}

func TestReportWindowReturnsOneSnapshot(t *testing.T) {
	c := openTestClient(t)
	registerStations(t, c, "HNI1", "PYN1")
	if err := c.SetWhitelisted("HNI1", true); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if _, err := c.InsertSamples([]types.Sample{
		{StationID: "HNI1", Timestamp: base.Add(-time.Hour), Status: types.StatusOnline, UserCount: 1, FixedUserCount: 1},
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 10, FixedUserCount: 8},
		{StationID: "PYN1", Timestamp: base.Add(30 * time.Minute), Status: types.StatusOffline},
		{StationID: "HNI1", Timestamp: base.Add(time.Hour), Status: types.StatusOnline, UserCount: 2, FixedUserCount: 2},
	}); err != nil {
		t.Fatal(err)
	}

	// One call yields both the registry and the windowed samples, so report
	// computation never interleaves with a concurrent write.
	stations, samples, err := c.ReportWindow(base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stations) != 2 {
		t.Fatalf("got %d stations, want 2", len(stations))
	}
	if !stations[0].Whitelisted {
		t.Error("whitelist flag lost in snapshot")
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2 (end bound is exclusive)", len(samples))
	}
	if samples[0].StationID != "HNI1" || samples[1].StationID != "PYN1" {
		t.Errorf("samples = %+v, want HNI1 then PYN1 ordered by ts", samples)
	}
}

func TestDeleteSamplesOlderThanIsIdempotent(t *testing.T) {
	c := openTestClient(t)
	registerStations(t, c, "HNI1")

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := c.InsertSamples([]types.Sample{
		{StationID: "HNI1", Timestamp: base, Status: types.StatusOnline, UserCount: 1, FixedUserCount: 1},
		{StationID: "HNI1", Timestamp: base.AddDate(0, 0, 200), Status: types.StatusOnline, UserCount: 1, FixedUserCount: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.InsertTransitions([]types.TransitionEvent{
		{StationID: "HNI1", PreviousStatus: types.StatusOnline, NewStatus: types.StatusOffline, Timestamp: base},
	}); err != nil {
		t.Fatal(err)
	}

	cutoff := base.AddDate(0, 0, 180)
	deleted, err := c.DeleteSamplesOlderThan(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("first purge deleted %d rows, want 1", deleted)
	}

	deleted, err = c.DeleteSamplesOlderThan(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Fatalf("second purge deleted %d rows, want 0", deleted)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats["samples"] != 1 {
		t.Errorf("samples remaining = %d, want 1", stats["samples"])
	}
	if stats["transition_events"] != 0 {
		t.Errorf("transition events remaining = %d, want 0", stats["transition_events"])
	}
}
