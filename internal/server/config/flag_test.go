package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-q", "-u", "-p", "-b", "-g", "-e", "-n", "-x"})

func TestParseFlags(t *testing.T) {

	// Test cases
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd",
			"-d", "db", "-q", "redis://localhost:6379/0",
			"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
			"-n", "https://cdn.example.com", "-x", "30",
		}, expectPanic: false,
			expected: &Config{
				DatabaseDSN:    "db",
				RedisURL:       "redis://localhost:6379/0",
				S3RootUser:     "user",
				S3RootPassword: "password",
				S3Bucket:       "bucket",
				S3Region:       "us-west-1",
				S3BaseEndpoint: "http://endpoint",
				CDNDomain:      "https://cdn.example.com",
				PresignExpiry:  30 * time.Minute,
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {

				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
