package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		SecretKey:                        "test-secret",
		ShortTermAutoCheckpointThreshold: 0.8,
		Environment:                      EnvLocal,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("missing secret key rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.SecretKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret_key")
	})

	t.Run("auto checkpoint threshold out of range rejected", func(t *testing.T) {
		for _, bad := range []float64{0, -0.1, 1.1} {
			cfg := validConfig()
			cfg.ShortTermAutoCheckpointThreshold = bad
			err := cfg.Validate()
			require.Error(t, err, "threshold %v should be rejected", bad)
		}
	})

	t.Run("unknown environment rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Environment = "dev"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "environment")
	})
}

func TestConfigDerivedDurations(t *testing.T) {
	cfg := validConfig()
	cfg.AccessTokenExpireMinutes = 30
	cfg.RefreshTokenExpireDays = 7

	assert.Equal(t, 30*60, int(cfg.AccessTokenTTL().Seconds()))
	assert.Equal(t, 7*24*60*60, int(cfg.RefreshTokenTTL().Seconds()))
}

func TestConfigIsProduction(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.IsProduction())

	cfg.Environment = EnvProduction
	assert.True(t, cfg.IsProduction())
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("REMEMBR_TEST_STRING", "from-env")
	assert.Equal(t, "from-env", envOrDefault("REMEMBR_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", envOrDefault("REMEMBR_TEST_STRING_UNSET", "fallback"))
}

func TestEnvOrDefaultInt(t *testing.T) {
	t.Setenv("REMEMBR_TEST_INT", "42")
	assert.Equal(t, 42, envOrDefaultInt("REMEMBR_TEST_INT", 7))
	assert.Equal(t, 7, envOrDefaultInt("REMEMBR_TEST_INT_UNSET", 7))

	t.Setenv("REMEMBR_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, envOrDefaultInt("REMEMBR_TEST_INT_BAD", 7))
}

func TestEnvOrDefaultFloat(t *testing.T) {
	t.Setenv("REMEMBR_TEST_FLOAT", "0.65")
	assert.InDelta(t, 0.65, envOrDefaultFloat("REMEMBR_TEST_FLOAT", 0.8), 0.0001)
	assert.InDelta(t, 0.8, envOrDefaultFloat("REMEMBR_TEST_FLOAT_UNSET", 0.8), 0.0001)
}
