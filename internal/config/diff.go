package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecognitionLimitChanged is true if the recognition rate limit or burst
	// changed.
	RecognitionLimitChanged bool
	NewRecognitionLimit     float64
	NewRecognitionBurst     int

	// RestartRequired lists the changed sections that only take effect after
	// a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RecognitionLimitChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Recognition.RateLimit != new.Recognition.RateLimit || old.Recognition.Burst != new.Recognition.Burst {
		d.RecognitionLimitChanged = true
		d.NewRecognitionLimit = new.Recognition.RateLimit
		d.NewRecognitionBurst = new.Recognition.Burst
	}

	if old.Server.Host != new.Server.Host || old.Server.Port != new.Server.Port || old.Server.MCP != new.Server.MCP {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Model != new.Model {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if !sameEntry(old.Providers.Synthesis, new.Providers.Synthesis) ||
		!sameEntry(old.Providers.Recognition, new.Providers.Recognition) ||
		len(old.Providers.RecognitionFallbacks) != len(new.Providers.RecognitionFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Voices != new.Voices {
		d.RestartRequired = append(d.RestartRequired, "voices")
	}
	if old.Synthesis != new.Synthesis {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Catalog != new.Catalog {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}

	return d
}

// sameEntry compares the scalar fields of two provider entries.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Timeout == b.Timeout
}
