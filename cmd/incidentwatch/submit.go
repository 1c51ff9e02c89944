package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/feed"
)

var submitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Submit a news report for parsing and print the resulting incident",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: submitTimeout}
		text := strings.Join(args, " ")
		logger := newLogger(cmd.ErrOrStderr())
		if submitQueue {
			return enqueue(cmd.Context(), client, serverURL, text, submitSourceLabel, logger)
		}
		_, err := submit(cmd.Context(), client, serverURL, text, feed.NewSession(), logger)
		return err
	},
}

var (
	submitQueue       bool
	submitSourceLabel string
	submitTimeout     time.Duration
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().BoolVar(&submitQueue, "queue", false, "Push the text as a channel message instead of parsing it inline")
	submitCmd.Flags().StringVar(&submitSourceLabel, "source-label", "", "Channel source label used with --queue")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 60*time.Second, "Request timeout")
}

type errorBody struct {
	Error string `json:"error"`
}

// submit posts text for inline parsing and merges the returned incident into
// session.
func submit(ctx context.Context, client *http.Client, server, text string, session *feed.Session, logger *slog.Logger) (domain.Incident, error) {
	resp, err := postJSON(ctx, client, server, "parse-news", map[string]string{"text": text})
	if err != nil {
		return domain.Incident{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Incident{}, statusError(resp)
	}
	var inc domain.Incident
	if err := json.NewDecoder(resp.Body).Decode(&inc); err != nil {
		return domain.Incident{}, fmt.Errorf("decode incident: %w", err)
	}

	session.Add(inc)
	logger.Info("incident created",
		"incident_id", inc.ID,
		"type", inc.Type,
		"title", inc.Title,
		"located", inc.Coordinates.Located(),
	)
	logSnapshot(logger, session.Snapshot())
	return inc, nil
}

// enqueue pushes text as a channel message for asynchronous ingestion.
func enqueue(ctx context.Context, client *http.Client, server, text, sourceLabel string, logger *slog.Logger) error {
	resp, err := postJSON(ctx, client, server, "api/channel-messages", map[string]string{
		"text":         text,
		"source_label": sourceLabel,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return statusError(resp)
	}
	logger.Info("channel message queued", "source_label", sourceLabel)
	return nil
}

func postJSON(ctx context.Context, client *http.Client, server, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	target, err := url.JoinPath(server, path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", target, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
