package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/incident-map-service/internal/feed"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live feed and print the derived view after every push",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return watch(cmd.Context(), serverURL, feed.NewSession(), watchCursor, newLogger(cmd.ErrOrStderr()))
	},
}

var watchCursor int

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().IntVar(&watchCursor, "cursor", feed.CursorMax, "Time cursor from 0 (oldest) to 100 (newest)")
}

// watch reads envelopes from the server's WebSocket feed into session until
// ctx is cancelled or the connection drops.
func watch(ctx context.Context, server string, session *feed.Session, cursor int, logger *slog.Logger) error {
	session.SetCursor(cursor)

	target, err := liveURL(server)
	if err != nil {
		return err
	}
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	logger.Info("watching live feed", "url", target)
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read live feed: %w", err)
		}
		changed, err := session.Apply(data)
		if err != nil {
			logger.Warn("ignoring malformed envelope", "error", err)
			continue
		}
		if changed {
			logSnapshot(logger, session.Snapshot())
		}
	}
}

// liveURL maps an http(s) base URL to its ws(s) /ws endpoint.
func liveURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return u.JoinPath("ws").String(), nil
}
