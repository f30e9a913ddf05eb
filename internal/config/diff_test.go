package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxstudio/internal/config"
)

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(config.Default(), config.Default())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old := config.Default()
	updated := config.Default()
	updated.Server.LogLevel = config.LogDebug
	updated.Recognition.RateLimit = 3
	updated.Recognition.Burst = 6

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: got changed=%v level=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.RecognitionLimitChanged || d.NewRecognitionLimit != 3 || d.NewRecognitionBurst != 6 {
		t.Errorf("recognition limit: got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired: got %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	updated := config.Default()
	updated.Server.Port = 9000
	updated.Model.Dir = "/other"
	updated.Providers.Recognition.Name = "openai"
	updated.Catalog.PostgresDSN = "postgres://localhost/voxstudio"

	d := config.Diff(old, updated)
	for _, section := range []string{"server", "model", "providers", "catalog"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired %v should contain %q", d.RestartRequired, section)
		}
	}
	if d.LogLevelChanged || d.RecognitionLimitChanged {
		t.Errorf("unexpected hot-reload flags: %+v", d)
	}
}
