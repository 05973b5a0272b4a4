package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:5000"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:5000" usage:"API server listen address"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string        `usage:"Redis URL for the finalize cache and rate limiter (CHECKOUT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	ClientURL      string        `default:"http://localhost:5173" usage:"Storefront URL used for payment redirects" flag:"client-url"`
	Currency       string        `default:"usd" usage:"ISO currency of all prices"`
	RequestTimeout time.Duration `default:"15s" usage:"Upper bound for a single API call" flag:"request-timeout"`
	Stripe         StripeConfig
	JWT            JWTConfig
	Kafka          KafkaConfig
	Cache          CacheConfig
	Breaker        BreakerConfig
	Discount       DiscountConfig
	Pool           PoolConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// StripeConfig configures the payment gateway.
type StripeConfig struct {
	SecretKey string `usage:"Stripe secret key (CHECKOUT_STRIPE_SECRETKEY or STRIPE_SECRET_KEY)" flag:"stripe-secret-key"`
}

// JWTConfig configures access token verification.
type JWTConfig struct {
	Secret string        `usage:"HMAC secret of access tokens (CHECKOUT_JWT_SECRET or ACCESS_TOKEN_SECRET)" flag:"jwt-secret"`
	Leeway time.Duration `default:"30s" usage:"Allowed clock skew for token expiry"`
}

// KafkaConfig configures order event publishing. Publishing is disabled when
// Brokers is empty.
type KafkaConfig struct {
	Brokers string        `default:"" usage:"Comma separated Kafka brokers"`
	Topic   string        `default:"orders" usage:"Topic of order events"`
	Timeout time.Duration `default:"5s" usage:"Publish timeout"`
}

// CacheConfig configures the finalize result cache.
type CacheConfig struct {
	TTL time.Duration `default:"24h" usage:"Lifetime of cached finalize results"`
}

// BreakerConfig configures the circuit breaker around the payment gateway.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `default:"5" usage:"Failures that open the breaker"`
	OpenTimeout         time.Duration `default:"30s" usage:"Time the breaker stays open"`
	Interval            time.Duration `default:"60s" usage:"Period after which closed-state counts reset"`
}

// DiscountConfig overrides the reward policy.
type DiscountConfig struct {
	RewardThreshold  int64         `default:"20000" usage:"Payable total in cents that earns a reward code"`
	RewardPercentage int           `default:"10" usage:"Discount percentage of reward codes"`
	RewardTTL        time.Duration `default:"720h" usage:"Lifetime of reward codes"`
	EnforceExpiry    bool          `default:"true" usage:"Reject expired codes"`
}

// PoolConfig sizes the PostgreSQL pool.
type PoolConfig struct {
	MaxConns int32 `default:"10" usage:"Maximum pool connections"`
	MinConns int32 `default:"1" usage:"Minimum idle pool connections"`
}

// RateLimitConfig controls the per-client fixed window rate limiter on the
// payments routes.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max payment requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers. The client URL is
// always allowed.
type CORSConfig struct {
	Origins []string `default:"" usage:"Additional allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional variable names used by hosting
// platforms and the storefront's .env file.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	fallback := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.RedisURL, "REDIS_URL")
	fallback(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	fallback(&c.JWT.Secret, "ACCESS_TOKEN_SECRET")
	if v := getenv("CLIENT_URL"); v != "" {
		c.ClientURL = v
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	c.ClientURL = strings.TrimRight(c.ClientURL, "/")
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	case c.Stripe.SecretKey == "":
		return errors.New("stripe secret key is required: set CHECKOUT_STRIPE_SECRETKEY or STRIPE_SECRET_KEY")
	case c.JWT.Secret == "":
		return errors.New("jwt secret is required: set CHECKOUT_JWT_SECRET or ACCESS_TOKEN_SECRET")
	case c.ClientURL == "":
		return errors.New("client URL is required")
	}
	return nil
}

// SuccessURL is the redirect target after payment. The gateway substitutes
// the session id placeholder.
func (c *Config) SuccessURL() string {
	return c.ClientURL + "/purchase-success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is the redirect target after an abandoned payment.
func (c *Config) CancelURL() string {
	return c.ClientURL + "/purchase-cancel"
}

// AllowedOrigins returns the CORS origins including the client URL.
func (c *Config) AllowedOrigins() []string {
	out := []string{c.ClientURL}
	for _, o := range c.CORS.Origins {
		if o = strings.TrimSpace(o); o != "" && o != c.ClientURL {
			out = append(out, o)
		}
	}
	return out
}
