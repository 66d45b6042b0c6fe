package services

import (
	"github.com/bibflow/holdingpen-backend/internal/platform/envutil"
)

// Flags reads operational toggles. Values are read from the environment
// on every call, not cached at startup, so a toggle flipped on a
// running worker takes effect for the next step that consults it.
type Flags struct{}

func NewFlags() *Flags { return &Flags{} }

// SendToLegacy gates the legacy upload of brand-new records.
func (f *Flags) SendToLegacy() bool {
	return envutil.Bool("FEATURE_FLAG_ENABLE_SEND_TO_LEGACY", true)
}

// UpdateToLegacy gates the legacy upload of updates to existing
// records. Off by default: updates are riskier than inserts.
func (f *Flags) UpdateToLegacy() bool {
	return envutil.Bool("FEATURE_FLAG_ENABLE_UPDATE_TO_LEGACY", false)
}

// Production reports whether this deployment talks to real external
// services. Outside production, ticketing and webcoll waits are logged
// and skipped.
func (f *Flags) Production() bool {
	return envutil.String("APP_ENV", "development") == "production"
}
