package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyPlatformDefaults(t *testing.T) {
	cfg := Config{Addr: defaultAddr, ClientURL: "http://localhost:5173"}
	cfg.applyPlatformDefaults(envMap(map[string]string{
		"DATABASE_URL":        "postgres://db/shop",
		"REDIS_URL":           "redis://cache:6379/0",
		"STRIPE_SECRET_KEY":   "sk_test_123",
		"ACCESS_TOKEN_SECRET": "s3cret",
		"CLIENT_URL":          "https://shop.example/",
		"PORT":                "8081",
	}))

	assert.Equal(t, "postgres://db/shop", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "https://shop.example", cfg.ClientURL)
	assert.Equal(t, "0.0.0.0:8081", cfg.Addr)
	require.NoError(t, cfg.validate())
}

func TestApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	cfg := Config{Addr: "127.0.0.1:9000", DatabaseURL: "postgres://explicit"}
	cfg.applyPlatformDefaults(envMap(map[string]string{
		"DATABASE_URL": "postgres://platform",
		"PORT":         "8081",
	}))

	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		DatabaseURL: "postgres://db",
		ClientURL:   "http://localhost:5173",
		Stripe:      StripeConfig{SecretKey: "sk"},
		JWT:         JWTConfig{Secret: "s"},
	}
	require.NoError(t, valid.validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"database", func(c *Config) { c.DatabaseURL = "" }, "database URL is required"},
		{"stripe", func(c *Config) { c.Stripe.SecretKey = "" }, "stripe secret key is required"},
		{"jwt", func(c *Config) { c.JWT.Secret = "" }, "jwt secret is required"},
		{"client", func(c *Config) { c.ClientURL = "" }, "client URL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedirectURLs(t *testing.T) {
	cfg := Config{ClientURL: "https://shop.example"}
	assert.Equal(t, "https://shop.example/purchase-success?session_id={CHECKOUT_SESSION_ID}", cfg.SuccessURL())
	assert.Equal(t, "https://shop.example/purchase-cancel", cfg.CancelURL())
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{
		ClientURL: "https://shop.example",
		CORS:      CORSConfig{Origins: []string{"", "https://shop.example", " https://admin.example "}},
	}
	assert.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.AllowedOrigins())
}
