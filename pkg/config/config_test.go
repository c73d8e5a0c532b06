package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowstat/pkg/shadow"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	hc, err := cfg.HarnessConfig()
	require.NoError(t, err)
	assert.Len(t, hc.Bands, 2)
	assert.Equal(t, 0.05, hc.Alpha)
	assert.Equal(t, []float64{0.5}, hc.MaskQuantiles)
	assert.Equal(t, shadow.PowerKernel{Gamma: 1}, hc.Evaluator.Kernel)
	assert.Equal(t, "shadow_perm", hc.Permutation.Stage)
	assert.Equal(t, 0.9, hc.SNQuantile)
	assert.False(t, hc.RunBootstrap)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shadowstat.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), loaded); diff != "" {
		t.Errorf("round trip changed the config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Permutation, cfg.Permutation)
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := []byte("kernel:\n  name: von-mises\n  kappa: 2\nharness:\n  alpha: 0.1\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "von-mises", cfg.Kernel.Name)
	assert.Equal(t, 0.1, cfg.Harness.Alpha)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultConfig().Bands, cfg.Bands)

	k, err := cfg.AngleKernel()
	require.NoError(t, err)
	assert.Equal(t, "von-mises", k.Name())
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bands: [\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SHADOW_PERM_N":         "250",
		"SHADOW_PERM_MAX":       "300",
		"SHADOW_PERM_SEED":      "7",
		"SHADOW_MASK_QUANTILES": "0.4, 0.6",
		"SHADOW_KERNEL":         "vonmises",
		"SHADOW_ALPHA":          "0.01",
		"SHADOW_BOOTSTRAP":      "true",
		"SHADOW_SN_Q":           "0.75",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 250, cfg.Permutation.Target)
	assert.Equal(t, 300, cfg.Permutation.Max)
	assert.Equal(t, int64(7), cfg.Permutation.Seed)
	assert.Equal(t, []float64{0.4, 0.6}, cfg.Mask.Quantiles)
	assert.Equal(t, "vonmises", cfg.Kernel.Name)
	assert.Equal(t, 0.01, cfg.Harness.Alpha)
	assert.True(t, cfg.Bootstrap.Enabled)
	assert.Equal(t, 0.75, cfg.Noise.SNQuantile)
	require.NoError(t, cfg.Validate())

	env = map[string]string{"SHADOW_PERM_N": "many"}
	assert.Error(t, DefaultConfig().ApplyEnv(lookup))
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("SHADOW_BOOT_N=64\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SHADOW_BOOT_N") })

	cfg, err := Load(filepath.Join(dir, "absent.yaml"), envPath)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Bootstrap.N)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"alpha":         func(c *Config) { c.Harness.Alpha = 2 },
		"no bands":      func(c *Config) { c.Bands = nil },
		"band order":    func(c *Config) { c.Bands[0].LambdaMax = c.Bands[0].LambdaMin },
		"duplicate":     func(c *Config) { c.Bands[1].Name = c.Bands[0].Name },
		"kernel":        func(c *Config) { c.Kernel.Name = "triangle" },
		"quantile":      func(c *Config) { c.Mask.Quantiles = []float64{1.2} },
		"backend":       func(c *Config) { c.Checkpoint.Backend = "s3" },
		"sigma0":        func(c *Config) { c.Noise.Sigma0 = 0 },
		"signal q":      func(c *Config) { c.Noise.SNQuantile = 1.5 },
		"lanczos":       func(c *Config) { c.Registration.Support = 0 },
		"empty weights": func(c *Config) { c.Harness.WeightExps = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
			_, err := cfg.HarnessConfig()
			assert.Error(t, err)
		})
	}
}
