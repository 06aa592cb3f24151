package config

import (
	"flag"
	"os"
	"time"

	"github.com/mivanovs/telegate/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-w string   provider bridge endpoint (e.g., "http://127.0.0.1:8801")
//	-i string   provider API id
//	-x string   provider API hash
//	-o int      provider call timeout, seconds
//	-q string   redis URI
//	-m int      unread-message cache TTL, seconds
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-t", "-r", "-w", "-i", "-x", "-o", "-q", "-m", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	fs.StringVar(&config.BridgeEndpoint, "w", config.BridgeEndpoint, "provider bridge endpoint")
	fs.StringVar(&config.ProviderAPIID, "i", config.ProviderAPIID, "provider API id")
	fs.StringVar(&config.ProviderAPIHash, "x", config.ProviderAPIHash, "provider API hash")
	providerTimeout := fs.Int("o", int(config.ProviderTimeout.Seconds()), "provider call timeout (in seconds)")

	fs.StringVar(&config.RedisURI, "q", config.RedisURI, "redis URI")
	messageCacheTTL := fs.Int("m", int(config.MessageCacheTTL.Seconds()), "unread-message cache TTL (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
	config.ProviderTimeout = time.Duration(*providerTimeout) * time.Second
	config.MessageCacheTTL = time.Duration(*messageCacheTTL) * time.Second
}
