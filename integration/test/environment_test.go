package test

import (
	"os"
	"testing"
)

type (
	Environment struct {
		t                   *testing.T
		TidepoolAPIEndpoint string
	}
)

func NewEnvironment(t *testing.T) *Environment {
	if os.Getenv("TIDEPOOL_INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration tests. " +
			"To run integration tests start up `tidepool serve` and set TIDEPOOL_INTEGRATION_TEST environment variable to `true`.")
		return nil
	}

	return &Environment{
		t:                   t,
		TidepoolAPIEndpoint: getEnvOrDefault("TIDEPOOL_API_ENDPOINT", "http://localhost:40080"),
	}
}

func getEnvOrDefault(key, def string) string {
	switch v, ok := os.LookupEnv(key); {
	case ok:
		return v
	default:
		return def
	}
}
