package cli

import (
	"context"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/internal/integration"
	"github.com/valter-silva-au/duealert/internal/observability"
	"github.com/valter-silva-au/duealert/internal/storage"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// Service instances, set during app initialization in app.go.
var (
	BasePath    string
	Config      *models.Config
	Engine      *core.Engine
	Due         storage.DueBacklog
	Capability  *integration.CapabilityFile
	Credentials *integration.Credentials
)

// Observability service instances. Nil when the event log is unavailable.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)

// Long-running processes started by the run and agent commands.
var (
	RunDaemon func(ctx context.Context) error
	RunAgent  func(ctx context.Context) error
)

// newNotifier builds the health webhook notifier; tests replace it.
var newNotifier = observability.NewSlackNotifier
