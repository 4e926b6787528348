package authc

import (
	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-errors"
)

// Config holds process-level settings. Field defaults suit local
// development; production overrides come from the environment.
type Config struct {
	// IssuerBase prefixes the tenant id in access-token iss claims.
	IssuerBase string `env:"AUTHC_ISSUER_BASE" envDefault:"https://auth.local"`

	// SQLiteDSN locates the durable actor slot store.
	SQLiteDSN string `env:"AUTHC_SQLITE_DSN" envDefault:"file:authc.db?cache=shared"`

	// NATSURL enables the JetStream activity queue when set; empty keeps
	// the in-process queue.
	NATSURL     string `env:"AUTHC_NATS_URL"`
	NATSStream  string `env:"AUTHC_NATS_STREAM" envDefault:"AUTHC_ACTIVITY"`
	NATSSubject string `env:"AUTHC_NATS_SUBJECT" envDefault:"authc.activity"`
	NATSDurable string `env:"AUTHC_NATS_DURABLE" envDefault:"authc-activity-pump"`

	// RedisURL enables the shared settings cache when set; empty keeps the
	// in-process cache.
	RedisURL string `env:"AUTHC_REDIS_URL"`

	// TenantHeader names the HTTP header carrying the tenant id.
	TenantHeader string `env:"AUTHC_TENANT_HEADER" envDefault:"X-Tenant-ID"`
}

// LoadConfig parses configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CategoryBadInput, "failed to parse environment configuration")
	}
	return cfg, nil
}
