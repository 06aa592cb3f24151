package config

import (
	"os"
	"time"
)

// parseEnv overlays Config fields from environment variables. Values loaded
// from a .env file (via godotenv in main) arrive through the same path.
// Unset variables leave the current value untouched.
func parseEnv(config *Config) {
	setString(&config.EndpointAddr, "ENDPOINT_ADDR")
	setString(&config.DatabaseDSN, "DATABASE_DSN")
	setString(&config.SecretKey, "SECRET_KEY")
	setDuration(&config.AccessTokenValidityDuration, "ACCESS_TOKEN_VALIDITY")
	setDuration(&config.RefreshTokenValidityDuration, "REFRESH_TOKEN_VALIDITY")
	setString(&config.BridgeEndpoint, "BRIDGE_ENDPOINT")
	setString(&config.ProviderAPIID, "PROVIDER_API_ID")
	setString(&config.ProviderAPIHash, "PROVIDER_API_HASH")
	setDuration(&config.ProviderTimeout, "PROVIDER_TIMEOUT")
	setString(&config.RedisURI, "REDIS_URI")
	setDuration(&config.MessageCacheTTL, "MESSAGE_CACHE_TTL")
	setString(&config.S3RootUser, "S3_ROOT_USER")
	setString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	setString(&config.S3Bucket, "S3_BUCKET")
	setString(&config.S3Region, "S3_REGION")
	setString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	*dst = d
}
