package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level differs. Applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when the pipeline or vad sections differ.
	// Applied live: runs started after the reload use the new settings.
	PipelineChanged bool

	// RestartRequired lists the sections that differ but only take effect
	// after a restart (listener, TLS, providers, circuit breaker).
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PipelineChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Pipeline, new.Pipeline) || old.VAD != new.VAD {
		d.PipelineChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.Server.MaxUploadBytes != new.Server.MaxUploadBytes ||
		old.Server.RequestTimeout != new.Server.RequestTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers.VAD, new.Providers.VAD) {
		d.RestartRequired = append(d.RestartRequired, "providers.vad")
	}
	if !reflect.DeepEqual(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "circuit_breaker")
	}

	return d
}
