package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/storage"
)

// SyncAuthorization is the outcome of AuthorizeSync. On success the
// resolved CompanyID must be stamped onto every row written by the
// sync batch; it is the multi-tenant isolation boundary and never
// comes from a client-asserted value.
type SyncAuthorization struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	CompanyID uuid.UUID `json:"companyId,omitempty"`
	LicenseID uuid.UUID `json:"licenseId,omitempty"`
	AppID     string    `json:"appId,omitempty"`

	// ExpiredAt carries the nominal expiry on grace-window denials
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
}

// Gatekeeper authorizes field-data synchronization for activated
// devices. Unlike Verify, its expiry check extends the deadline by the
// license's grace period: an offline device that missed a renewal can
// still sync for a bounded window.
type Gatekeeper struct {
	store storage.Store
	now   func() time.Time
}

// NewGatekeeper creates a sync gatekeeper
func NewGatekeeper(store storage.Store) *Gatekeeper {
	return &Gatekeeper{store: store, now: time.Now}
}

// AuthorizeSync resolves a device identifier to its license and
// company. The device's prior activation is its credential.
func (g *Gatekeeper) AuthorizeSync(ctx context.Context, deviceID string) (*SyncAuthorization, error) {
	license, device, err := g.store.GetLicenseByDeviceID(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return &SyncAuthorization{Reason: ReasonDeviceNotActivated}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve device license: %w", err)
	}

	if !license.IsActive {
		return &SyncAuthorization{Reason: ReasonInactive}, nil
	}

	if deadline := license.GraceDeadline(); deadline != nil && g.now().After(*deadline) {
		return &SyncAuthorization{
			Reason:    ReasonExpired,
			ExpiredAt: license.ExpiresAt,
		}, nil
	}

	if license.CompanyID == nil {
		// A license without a company cannot partition synced data.
		return &SyncAuthorization{Reason: "license not assigned to a company"}, nil
	}

	if err := g.store.TouchActivatedDevice(ctx, device.ID); err != nil {
		return nil, fmt.Errorf("touch device: %w", err)
	}

	return &SyncAuthorization{
		Allowed:   true,
		CompanyID: *license.CompanyID,
		LicenseID: license.ID,
		AppID:     license.AppID,
	}, nil
}
