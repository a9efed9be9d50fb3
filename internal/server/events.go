// Package server carries the async event plumbing around the REST API:
// NATS publishing of activation and sync events.
package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects follow license.<key>.device.<id>.<event> and
// sync.<company>.device.<id>.<event>.
const (
	eventActivated     = "activated"
	eventDeactivated   = "deactivated"
	eventSyncCompleted = "completed"
)

// DeviceEvent is published on activation lifecycle changes
type DeviceEvent struct {
	LicenseKey  string    `json:"licenseKey"`
	DeviceID    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName,omitempty"`
	DeviceModel string    `json:"deviceModel,omitempty"`
	Time        time.Time `json:"time"`
}

// SyncEvent is published after a successful sync batch
type SyncEvent struct {
	CompanyID        uuid.UUID `json:"companyId"`
	LicenseID        uuid.UUID `json:"licenseId"`
	AppID            string    `json:"appId,omitempty"`
	DeviceID         string    `json:"deviceId"`
	SessionCount     int       `json:"sessionCount"`
	MeasurementCount int       `json:"measurementCount"`
	Time             time.Time `json:"time"`
}

// EventPublisher publishes server events to NATS. A nil publisher is
// valid and drops all events, so callers never nil-check.
type EventPublisher struct {
	nc *nats.Conn
}

// NewEventPublisher creates an event publisher
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{nc: nc}
}

// PublishDeviceActivated publishes a device activation event
func (p *EventPublisher) PublishDeviceActivated(event DeviceEvent) {
	p.publish("license."+event.LicenseKey+".device."+event.DeviceID+"."+eventActivated, event)
}

// PublishDeviceDeactivated publishes a device deactivation event
func (p *EventPublisher) PublishDeviceDeactivated(event DeviceEvent) {
	p.publish("license."+event.LicenseKey+".device."+event.DeviceID+"."+eventDeactivated, event)
}

// PublishSyncCompleted publishes a sync completion event
func (p *EventPublisher) PublishSyncCompleted(event SyncEvent) {
	p.publish("sync."+event.CompanyID.String()+".device."+event.DeviceID+"."+eventSyncCompleted, event)
}

func (p *EventPublisher) publish(subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}
