// Package tracker owns the last-known-status state of every station and
// turns new samples into edge-triggered transition events.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/metrics"
	"github.com/vietrtk/corsmon/internal/types"
)

// Store is the slice of the sample store the tracker needs.
type Store interface {
	LatestSamples() (map[string]types.Sample, error)
	InsertTransitions([]types.TransitionEvent) error
}

type entry struct {
	status types.Status
	since  time.Time
}

type candidate struct {
	status types.Status
	count  int
}

// Tracker compares each new sample against the station's last confirmed
// status. The state map is owned exclusively by the Tracker and is seeded
// from the store's latest row per station at startup.
type Tracker struct {
	store          Store
	debounceCycles int
	startupGrace   time.Duration
	startedAt      time.Time

	mu         sync.Mutex
	last       map[string]entry
	candidates map[string]candidate
}

// New creates a Tracker. debounceCycles is how many consecutive samples a
// new status must persist before the transition fires; 1 fires on every
// edge.
func New(store Store, debounceCycles int, startupGrace time.Duration) *Tracker {
	if debounceCycles < 1 {
		debounceCycles = 1
	}
	return &Tracker{
		store:          store,
		debounceCycles: debounceCycles,
		startupGrace:   startupGrace,
		startedAt:      time.Now(),
		last:           make(map[string]entry),
		candidates:     make(map[string]candidate),
	}
}

// Rehydrate seeds the state map from the most recent persisted sample of
// every station, so a restart does not replay transitions that already
// happened.
func (t *Tracker) Rehydrate() error {
	latest, err := t.store.LatestSamples()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range latest {
		t.last[id] = entry{status: s.Status, since: s.Timestamp}
	}
	log.Infof("tracker rehydrated state for %d stations", len(latest))
	return nil
}

// DetectTransitions compares samples against the tracked state and returns
// one event per station whose confirmed status changed. Events keep the
// order stations were processed in and carry the sample's cycle timestamp.
// A station's first-ever sample seeds state and emits nothing.
func (t *Tracker) DetectTransitions(samples []types.Sample) []types.TransitionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []types.TransitionEvent
	for _, s := range samples {
		prev, known := t.last[s.StationID]
		if !known {
			t.last[s.StationID] = entry{status: s.Status, since: s.Timestamp}
			delete(t.candidates, s.StationID)
			continue
		}
		if s.Status == prev.status {
			delete(t.candidates, s.StationID)
			continue
		}

		cand, ok := t.candidates[s.StationID]
		if !ok || cand.status != s.Status {
			cand = candidate{status: s.Status, count: 0}
		}
		cand.count++
		if cand.count < t.debounceCycles {
			t.candidates[s.StationID] = cand
			continue
		}
		delete(t.candidates, s.StationID)

		ev := types.TransitionEvent{
			StationID:      s.StationID,
			PreviousStatus: prev.status,
			NewStatus:      s.Status,
			Timestamp:      s.Timestamp,
		}
		// Recovery events carry how long the station was in its bad state.
		if prev.status != types.StatusOnline && s.Status == types.StatusOnline {
			ev.Downtime = s.Timestamp.Sub(prev.since)
		}
		events = append(events, ev)
		t.last[s.StationID] = entry{status: s.Status, since: s.Timestamp}
	}
	return events
}

// Run executes one tracking cycle against the store: reads the latest sample
// per station, detects transitions and appends them to the audit log. An
// audit write failure is logged, never fatal, and a station without prior
// state simply produces no event this cycle.
func (t *Tracker) Run(ctx context.Context) ([]types.TransitionEvent, error) {
	latest, err := t.store.LatestSamples()
	if err != nil {
		return nil, err
	}

	samples := make([]types.Sample, 0, len(latest))
	for _, s := range latest {
		samples = append(samples, s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].StationID < samples[j].StationID })

	events := t.DetectTransitions(samples)
	for _, ev := range events {
		metrics.IncTransition(string(ev.NewStatus))
		log.Infof("station %s transitioned %s -> %s", ev.StationID, ev.PreviousStatus, ev.NewStatus)
	}

	if len(events) > 0 {
		if err := t.store.InsertTransitions(events); err != nil {
			log.Errorf("error persisting transition audit records: %v", err)
		}
	}
	return events, nil
}

// Down returns the stations whose last confirmed status is not online, with
// when each entered its current state, sorted by station id. Status reports
// use this so a station that went down days ago stays visible, not just its
// single transition event.
func (t *Tracker) Down() []types.DownStation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.DownStation
	for id, e := range t.last {
		if e.status != types.StatusOnline {
			out = append(out, types.DownStation{StationID: id, Status: e.status, Since: e.since})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// AlertingSuppressed reports whether transitions should still be withheld
// from the notification channel because the process just started.
func (t *Tracker) AlertingSuppressed() bool {
	return time.Since(t.startedAt) < t.startupGrace
}

// LastKnown returns the tracked status of one station.
func (t *Tracker) LastKnown(stationID string) (types.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.last[stationID]
	return e.status, ok
}
