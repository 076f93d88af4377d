// Package restserver is the management and report front door: on-demand
// report computation, station status listing and whitelist administration.
package restserver

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/types"
	"github.com/vietrtk/corsmon/pkg/config"
)

// Store is the slice of the sample store the REST API reads and administers.
type Store interface {
	Stations() ([]types.Station, error)
	LatestSamples() (map[string]types.Sample, error)
	SetWhitelisted(id string, whitelisted bool) error
	Stats() (map[string]int64, error)
}

// Reporter computes on-demand reports.
type Reporter interface {
	ComputeReport(scope types.Scope, key string, start, end time.Time) (*types.Report, error)
}

// Controller serves the HTTP API.
type Controller struct {
	cfg      *config.Config
	store    Store
	reporter Reporter
	server   *http.Server
}

// New creates the REST controller.
func New(cfg *config.Config, store Store, reporter Reporter) *Controller {
	c := &Controller{
		cfg:      cfg,
		store:    store,
		reporter: reporter,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/report", c.handleReport).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stations", c.handleStations).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/whitelist", c.handleWhitelist).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/whitelist/{station}", c.handleWhitelistAdd).Methods(http.MethodPut)
	router.HandleFunc("/api/v1/whitelist/{station}", c.handleWhitelistRemove).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/stats", c.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/health", c.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c.server = &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return c
}

// Start runs the HTTP server until ctx is cancelled.
func (c *Controller) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("error shutting down REST server: %v", err)
		}
	}()

	go func() {
		log.Infof("REST server listening on %s", c.cfg.HTTP.ListenAddr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("REST server error: %v", err)
		}
	}()
}
