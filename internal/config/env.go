package config

import "strings"

// Environment variables read once at start-up.
const (
	EnvBaseURL = "PLAYWRIGHT_TEST_BASE_URL"
	// EnvBaseURLShort is read when EnvBaseURL is unset or empty.
	EnvBaseURLShort = "TEST_BASE_URL"
	EnvSeed         = "IS_E2E_SEED"
)

// Env is the part of the process environment snapdiff cares about.
type Env struct {
	// CIBaseURL is the server under test in CI. Non-empty switches the run
	// to CI settings.
	CIBaseURL string
	// Seed selects seed mode.
	Seed bool
}

// FromEnv reads the environment through lookup (usually os.LookupEnv).
func FromEnv(lookup func(string) (string, bool)) Env {
	var e Env
	for _, name := range []string{EnvBaseURL, EnvBaseURLShort} {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			e.CIBaseURL = strings.TrimSpace(v)
			break
		}
	}
	if v, ok := lookup(EnvSeed); ok {
		e.Seed = truthy(v)
	}
	return e
}

// Apply folds the environment into the configuration: a CI base URL forces
// serial workers, one retry and forbid-only; seed mode implies updating
// baselines.
func (c *Config) Apply(e Env) {
	if e.CIBaseURL != "" {
		c.CI = true
		c.BaseURL = e.CIBaseURL
		c.Workers = 1
		c.Retries = 1
		c.ForbidOnly = true
	}
	if e.Seed {
		c.Seed = true
		c.UpdateSnapshots = true
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
