// Package steps contains the individual workflow steps. Each
// constructor closes over the shared dependency bundle and returns an
// engine.Step; steps carry no state of their own between runs.
package steps

import (
	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/clients/robotupload"
	"github.com/bibflow/holdingpen-backend/internal/clients/rt"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/resolution"
	"github.com/bibflow/holdingpen-backend/internal/services"
)

// Env bundles everything any step may need. Handlers and the worker
// build one Env at startup and share it across all pipelines.
type Env struct {
	Log        *logger.Logger
	Catalog    catalog.Service
	Literature resolution.LiteratureAuthorSource
	Tickets    rt.Client
	Legacy     robotupload.Client
	Registry   *services.Registry
	Flags      *services.Flags
	Hidden     *services.HiddenCollections
	// ServerBase is this deployment's externally reachable base URL,
	// used to build callback URLs handed to the legacy uploader.
	ServerBase string
}
