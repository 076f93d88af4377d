// Package sampler runs the polling cycle: fetch the fleet's current state
// from the broadcast API, normalize it into samples and persist one atomic
// batch per cycle.
package sampler

import (
	"context"
	"time"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/metrics"
	"github.com/vietrtk/corsmon/internal/types"
	"github.com/vietrtk/corsmon/pkg/rtkapi"
)

// RemoteClient is the slice of the RTK API client the sampler needs.
type RemoteClient interface {
	FetchStationStatus(ctx context.Context) ([]rtkapi.StationRecord, error)
	FetchOnlineUsers(ctx context.Context) ([]rtkapi.UserRecord, error)
}

// Store is the slice of the sample store the sampler writes through.
type Store interface {
	UpsertStations([]types.Station) error
	InsertSamples([]types.Sample) (int, error)
}

// Mirror receives a copy of every persisted batch.
type Mirror interface {
	Distribute([]types.Sample)
}

// Sampler normalizes remote records into store samples, one batch per cycle.
type Sampler struct {
	client RemoteClient
	store  Store
	mirror Mirror
	now    func() time.Time
}

// New creates a Sampler. mirror may be nil.
func New(client RemoteClient, store Store, mirror Mirror) *Sampler {
	return &Sampler{
		client: client,
		store:  store,
		mirror: mirror,
		now:    time.Now,
	}
}

// PollAndStore runs one polling cycle and returns the samples it persisted.
// A fetch failure leaves the store untouched; the next scheduled tick is the
// retry. Newly seen stations are registered (not whitelisted) before their
// first sample so every sample references a known station.
func (s *Sampler) PollAndStore(ctx context.Context) ([]types.Sample, error) {
	stations, err := s.client.FetchStationStatus(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.client.FetchOnlineUsers(ctx)
	if err != nil {
		return nil, err
	}

	registry := make([]types.Station, 0, len(stations))
	for _, st := range stations {
		registry = append(registry, types.Station{
			ID:             st.Code,
			Name:           st.Name,
			ProvincePrefix: types.ProvincePrefix(st.Code),
		})
	}
	if err := s.store.UpsertStations(registry); err != nil {
		return nil, err
	}

	userCount := make(map[string]int, len(stations))
	fixedCount := make(map[string]int, len(stations))
	for _, u := range users {
		userCount[u.StationCode]++
		if u.Fixed {
			fixedCount[u.StationCode]++
		}
	}

	cycleTS := s.now().UTC().Truncate(time.Second)
	samples := make([]types.Sample, 0, len(stations))
	for _, st := range stations {
		sample := types.Sample{
			StationID:      st.Code,
			Timestamp:      cycleTS,
			Status:         st.Status,
			UserCount:      userCount[st.Code],
			FixedUserCount: fixedCount[st.Code],
		}
		if err := sample.Validate(); err != nil {
			// Malformed counts are rejected, never clamped or persisted.
			log.Warnf("rejecting malformed sample: %v", err)
			continue
		}
		samples = append(samples, sample)
	}

	n, err := s.store.InsertSamples(samples)
	if err != nil {
		return nil, err
	}
	metrics.AddSamplesWritten(n)

	if s.mirror != nil {
		s.mirror.Distribute(samples)
	}

	log.Debugf("poll cycle stored %d samples at %s", n, cycleTS.Format(time.RFC3339))
	return samples, nil
}
