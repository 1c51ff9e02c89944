// Command incidentwatch is a terminal viewer for the live incident feed.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/feed"
)

var rootCmd = &cobra.Command{
	Use:          "incidentwatch",
	Short:        "Watch and submit incidents against an incident-map server",
	SilenceUsage: true,
}

var serverURL string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "Base URL of the incident-map server")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}

// logSnapshot prints one line per view change.
func logSnapshot(logger *slog.Logger, d feed.Derived) {
	attrs := []any{
		"total", d.Total,
		"visible", len(d.Visible),
		"markers", len(d.Markers),
		"cursor", d.Cursor,
		"emergency", d.Counts[domain.EventEmergency],
		"repair", d.Counts[domain.EventRepair],
		"road_work", d.Counts[domain.EventRoadWork],
	}
	if len(d.Visible) > 0 {
		latest := d.Visible[0]
		attrs = append(attrs, "latest_id", latest.ID, "latest_title", latest.Title)
	}
	if d.Focus != nil {
		attrs = append(attrs, "focus_lat", d.Focus.Center.Lat, "focus_lng", d.Focus.Center.Lng)
	}
	logger.Info("feed updated", attrs...)
}
