package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields a given run mode needs. Modes: "extract"
// (single document or batch runs), "serve" (webhook server), "query"
// (read-only record commands and export).
func (c *Config) Validate(mode string) error {
	var problems []string

	common := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}

	llm := func() {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Classify.RequestsPerMinute < 1 {
			problems = append(problems, "classify.requests_per_minute must be >= 1")
		}
		if c.Classify.MinConfidence < 0 || c.Classify.MinConfidence > 1 {
			problems = append(problems, "classify.min_confidence must be between 0 and 1")
		}
		if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 32 {
			problems = append(problems, "pipeline.workers must be between 1 and 32")
		}
		if st := c.Pipeline.DefaultStatus; st != "official" && st != "estimated" && st != "forecast" {
			problems = append(problems, "pipeline.default_status must be official, estimated or forecast")
		}
	}

	switch mode {
	case "extract":
		common()
		llm()
	case "serve":
		common()
		llm()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "query":
		common()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
