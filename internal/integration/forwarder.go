// Package integration forwards server events to the HTTP integrations
// configured on applications.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/server"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// Forwarder subscribes to sync completion events and forwards them to
// the owning application's HTTP integration, if one is configured.
type Forwarder struct {
	nc    *nats.Conn
	store storage.Store

	httpClient *http.Client
}

// NewForwarder creates a forwarder service
func NewForwarder(nc *nats.Conn, store storage.Store, timeout time.Duration) *Forwarder {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		nc:    nc,
		store: store,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Start subscribes and blocks until the context is cancelled
func (f *Forwarder) Start(ctx context.Context) error {
	sub, err := f.nc.Subscribe("sync.*.device.*.completed", f.handleSyncCompleted)
	if err != nil {
		return fmt.Errorf("subscribe sync events: %w", err)
	}

	log.Info().Msg("Integration forwarder started")

	<-ctx.Done()

	sub.Unsubscribe()

	return ctx.Err()
}

// handleSyncCompleted forwards one sync event
func (f *Forwarder) handleSyncCompleted(msg *nats.Msg) {
	var event server.SyncEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Invalid sync event payload")
		return
	}

	// Only concretely-scoped licenses map to an application with an
	// integration target.
	if event.AppID == "" || event.AppID == models.AppWildcard {
		return
	}

	ctx := context.Background()
	app, err := f.store.GetApplicationByAppID(ctx, event.AppID)
	if err != nil {
		log.Error().Err(err).Str("app_id", event.AppID).Msg("Failed to resolve application")
		return
	}

	url := integrationURL(app)
	if url == "" {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":             "sync.completed",
		"company_id":        event.CompanyID,
		"device_id":         event.DeviceID,
		"session_count":     event.SessionCount,
		"measurement_count": event.MeasurementCount,
		"time":              event.Time,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Failed to build integration request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Integration forward failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", url).
			Str("app_id", event.AppID).
			Msg("Integration endpoint rejected event")
		return
	}

	log.Debug().
		Str("app_id", event.AppID).
		Str("device_id", event.DeviceID).
		Msg("Sync event forwarded")
}

// integrationURL extracts the configured endpoint, if any
func integrationURL(app *models.Application) string {
	if app.HTTPIntegration == nil {
		return ""
	}
	url, _ := (*app.HTTPIntegration)["url"].(string)
	return url
}
