package restserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/types"
)

type reportResponse struct {
	Scope              string    `json:"scope"`
	Key                string    `json:"key,omitempty"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
	SampleCount        int       `json:"sample_count"`
	FixedRatePct       float64   `json:"fixed_rate_pct"`
	AvgUsers           float64   `json:"avg_users"`
	AvgFixedUsers      float64   `json:"avg_fixed_users"`
	ActiveStationCount int       `json:"active_station_count"`
}

type stationResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	ProvincePrefix string     `json:"province_prefix"`
	Whitelisted    bool       `json:"whitelisted"`
	Status         string     `json:"status"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	UserCount      int        `json:"user_count"`
	FixedUserCount int        `json:"fixed_user_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleReport computes a report on demand.
// GET /api/v1/report?scope=province&key=HN&minutes=15
func (c *Controller) handleReport(w http.ResponseWriter, r *http.Request) {
	scope := types.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = types.ScopeFleet
	}
	if !scope.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid scope parameter"})
		return
	}
	key := r.URL.Query().Get("key")
	if scope != types.ScopeFleet && key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "scope requires a key parameter"})
		return
	}

	minutes := 15
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid minutes parameter"})
			return
		}
		minutes = parsed
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(minutes) * time.Minute)

	report, err := c.reporter.ComputeReport(scope, key, start, end)
	if errors.Is(err, types.ErrNoData) {
		// Empty scope is an explicit answer, distinct from a fetch or store
		// failure and from a zero-user window.
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		log.Errorf("error computing report: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error computing report"})
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		Scope:              string(report.Scope),
		Key:                report.Key,
		WindowStart:        report.WindowStart,
		WindowEnd:          report.WindowEnd,
		SampleCount:        report.SampleCount,
		FixedRatePct:       report.FixedRatePct,
		AvgUsers:           report.AvgUsers,
		AvgFixedUsers:      report.AvgFixedUsers,
		ActiveStationCount: report.ActiveStationCount,
	})
}

// handleStations lists every known station with its latest observed state.
func (c *Controller) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := c.store.Stations()
	if err != nil {
		log.Errorf("error listing stations: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error listing stations"})
		return
	}
	latest, err := c.store.LatestSamples()
	if err != nil {
		log.Errorf("error loading latest samples: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error loading latest samples"})
		return
	}

	out := make([]stationResponse, 0, len(stations))
	for _, st := range stations {
		resp := stationResponse{
			ID:             st.ID,
			Name:           st.Name,
			ProvincePrefix: st.ProvincePrefix,
			Whitelisted:    st.Whitelisted,
			Status:         string(types.StatusUnknown),
		}
		if s, ok := latest[st.ID]; ok {
			ts := s.Timestamp
			resp.Status = string(s.Status)
			resp.LastSeen = &ts
			resp.UserCount = s.UserCount
			resp.FixedUserCount = s.FixedUserCount
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWhitelist lists whitelisted station ids.
func (c *Controller) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	stations, err := c.store.Stations()
	if err != nil {
		log.Errorf("error listing stations: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error listing stations"})
		return
	}
	whitelist := make([]string, 0)
	for _, st := range stations {
		if st.Whitelisted {
			whitelist = append(whitelist, st.ID)
		}
	}
	writeJSON(w, http.StatusOK, whitelist)
}

func (c *Controller) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	c.setWhitelisted(w, r, true)
}

func (c *Controller) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	c.setWhitelisted(w, r, false)
}

func (c *Controller) setWhitelisted(w http.ResponseWriter, r *http.Request, whitelisted bool) {
	station := mux.Vars(r)["station"]
	if err := c.store.SetWhitelisted(station, whitelisted); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"station":     station,
		"whitelisted": whitelisted,
	})
}

// handleStats exposes per-table row counts for the operator.
func (c *Controller) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.store.Stats()
	if err != nil {
		log.Errorf("error reading store stats: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error reading store stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (c *Controller) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("error encoding response: %v", err)
	}
}
