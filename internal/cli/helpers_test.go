package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/internal/integration"
	"github.com/valter-silva-au/duealert/internal/storage"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// useTestServices points the package-level services at a fresh engine
// backed by an in-memory queue and a due backlog in a temp dir.
func useTestServices(t *testing.T, replayer core.Replayer) *core.Engine {
	t.Helper()
	dir := t.TempDir()

	origEngine, origDue, origCap, origConfig := Engine, Due, Capability, Config
	t.Cleanup(func() {
		Engine, Due, Capability, Config = origEngine, origDue, origCap, origConfig
	})

	Due = storage.NewDueBacklog(filepath.Join(dir, "due.yaml"))
	Capability = integration.NewCapabilityFile(filepath.Join(dir, "capability.yaml"))
	Config = core.DefaultConfig(dir)

	opts := core.EngineOptions{
		Source:     Due,
		Banner:     integration.NewTerminalBanner(io.Discard),
		Prompter:   integration.FixedPrompter{State: models.CapabilityGranted},
		Store:      storage.NewMemoryActionStore(),
		ManualScan: true,
	}
	if replayer != nil {
		opts.Replayer = replayer
	}
	e, err := core.NewEngine(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Dispose() })
	Engine = e
	return e
}

// capture routes cmd's output to a buffer and gives it a context, as
// Execute would.
func capture(t *testing.T, cmd *cobra.Command) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	t.Cleanup(func() { cmd.SetOut(nil) })
	return &buf
}
