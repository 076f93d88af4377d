// Package notify delivers alert and report summaries to a webhook channel.
// Delivery is best-effort relative to data correctness: failures are logged
// and counted, never propagated back into the monitoring cycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/metrics"
	"github.com/vietrtk/corsmon/internal/types"
	"github.com/vietrtk/corsmon/pkg/config"
)

// Notifier posts messages to a Discord-compatible webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// New creates a Notifier. An empty webhook URL disables delivery.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: cfg.Timeout.D()},
	}
}

// Send posts one message. Never returns an error: a failed delivery is
// logged and counted and the cycle moves on.
func (n *Notifier) Send(ctx context.Context, message string) {
	if n.webhookURL == "" || message == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		log.Errorf("error marshaling webhook payload: %v", err)
		metrics.IncNotifyFailure()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Errorf("error building webhook request: %v", err)
		metrics.IncNotifyFailure()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Errorf("error delivering webhook message: %v", err)
		metrics.IncNotifyFailure()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		log.Errorf("webhook delivery answered status %s", resp.Status)
		metrics.IncNotifyFailure()
		return
	}
	log.Debug("webhook message delivered")
}

// FormatTransitions renders a transition batch as a status-change alert.
// names maps station ids to their descriptive names and may be incomplete.
func FormatTransitions(at time.Time, events []types.TransitionEvent, names map[string]string) string {
	var outages, recoveries []string
	for _, ev := range events {
		label := ev.StationID
		if name := names[ev.StationID]; name != "" {
			label = fmt.Sprintf("%s (%s)", ev.StationID, name)
		}
		switch {
		case ev.NewStatus == types.StatusOnline:
			line := label
			if ev.Downtime > 0 {
				line += fmt.Sprintf(" - down for %s", ev.Downtime.Round(time.Second))
			}
			recoveries = append(recoveries, line)
		default:
			outages = append(outages, fmt.Sprintf("%s - now %s", label, ev.NewStatus))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Station status report at %s\n", at.Format("02/01/2006 15:04:05"))
	b.WriteString("\nNew problems:\n")
	writeList(&b, outages)
	b.WriteString("\nRecovered:\n")
	writeList(&b, recoveries)
	return b.String()
}

// FormatStillDown renders the stations that remain in a bad state with how
// long each has been there, measured against at.
func FormatStillDown(at time.Time, down []types.DownStation, names map[string]string) string {
	lines := make([]string, 0, len(down))
	for _, d := range down {
		label := d.StationID
		if name := names[d.StationID]; name != "" {
			label = fmt.Sprintf("%s (%s)", d.StationID, name)
		}
		lines = append(lines, fmt.Sprintf("%s - %s for %s", label, d.Status, at.Sub(d.Since).Round(time.Second)))
	}

	var b strings.Builder
	b.WriteString("\nStill down:\n")
	writeList(&b, lines)
	return b.String()
}

// FormatFleetSummary renders the per-status station counts.
func FormatFleetSummary(total, online, unknown, offline int) string {
	var b strings.Builder
	b.WriteString("\nFleet overview:\n")
	fmt.Fprintf(&b, "  - stations: %d\n", total)
	fmt.Fprintf(&b, "  - online: %d\n", online)
	fmt.Fprintf(&b, "  - not pushing data: %d\n", unknown)
	fmt.Fprintf(&b, "  - offline: %d", offline)
	return b.String()
}

// FormatQualityReport renders an aggregated fixed-rate report.
func FormatQualityReport(r *types.Report) string {
	scopeLabel := "fleet"
	switch r.Scope {
	case types.ScopeProvince:
		scopeLabel = "province " + r.Key
	case types.ScopeStation:
		scopeLabel = "station " + r.Key
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Quality report for %s at %s\n", scopeLabel, r.WindowEnd.Format("02/01/2006 15:04:05"))
	fmt.Fprintf(&b, "  - fixed rate: %.2f%%\n", r.FixedRatePct)
	fmt.Fprintf(&b, "  - avg users: %.1f\n", r.AvgUsers)
	fmt.Fprintf(&b, "  - avg fixed users: %.1f\n", r.AvgFixedUsers)
	fmt.Fprintf(&b, "  - active stations: %d", r.ActiveStationCount)
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("  - none\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
