package config

import "testing"

func TestNewDefaultConfigPopulatesEveryField(t *testing.T) {
	c := NewDefaultConfig()
	if c.BindAddr == "" || c.StatsAddr == "" || c.DataDir == "" || c.DatabaseDir == "" {
		t.Fatalf("expected default config to have non-empty addresses/paths: %+v", c)
	}
	if c.IOThreads <= 0 {
		t.Fatalf("expected a positive default IOThreads, got %d", c.IOThreads)
	}
	if c.OnlineWeightQuorumPercent <= 0 || c.OnlineWeightQuorumPercent > 100 {
		t.Fatalf("expected a sane default quorum percent, got %d", c.OnlineWeightQuorumPercent)
	}
}

func TestKeyfileIsUnderDataDir(t *testing.T) {
	c := NewDefaultConfig()
	c.DataDir = "/tmp/chratos-test"
	if got, want := c.Keyfile(), "/tmp/chratos-test/priv_key"; got != want {
		t.Fatalf("Keyfile() = %q, want %q", got, want)
	}
}

func TestLoggerDefaultsToInfoOnBadLevel(t *testing.T) {
	c := NewDefaultConfig()
	c.LogLevel = "not-a-level"
	entry := c.Logger()
	if entry.Logger.Level.String() != "info" {
		t.Fatalf("expected an invalid log level to fall back to info, got %s", entry.Logger.Level)
	}
}

func TestNewTestConfigUsesProvidedLogger(t *testing.T) {
	c := NewTestConfig(t)
	if c.Logger() == nil {
		t.Fatalf("expected a non-nil logger")
	}
}
