package config

import (
	"flag"
	"os"
	"time"

	"github.com/carselling/uploadpipe/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-q string   Redis URL for finalization marks (empty disables Redis)
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-n string   CDN domain committed objects are served from
//	-x int      presigned upload URL validity, minutes
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-q", "-u", "-p", "-b", "-g", "-e", "-n", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "q", config.RedisURL, "redis URL for finalization marks")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.CDNDomain, "n", config.CDNDomain, "CDN domain for committed objects")

	presignExpiry := fs.Int("x", int(config.PresignExpiry.Minutes()), "presign_expiry (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PresignExpiry = time.Duration(*presignExpiry) * time.Minute
}
