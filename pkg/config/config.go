// Package config provides configuration loading and management for shadowstat.
// It handles loading configuration from YAML files, .env files and SHADOW_*
// environment variables and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"shadowstat/pkg/harness"
	"shadowstat/pkg/montecarlo"
	"shadowstat/pkg/registration"
	"shadowstat/pkg/shadow"
	"shadowstat/pkg/spectral"
)

// Band is one wavelength window in pixels
type Band struct {
	Name      string  `yaml:"name" validate:"required"`
	LambdaMin float64 `yaml:"lambdaMin" validate:"gt=0"`
	LambdaMax float64 `yaml:"lambdaMax" validate:"gtfield=LambdaMin"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Bands are the band-pass windows of the shadow statistic
	Bands []Band `yaml:"bands" validate:"required,min=1,dive"`

	// Evaluator parameters of the shadow statistic
	Evaluator struct {
		// BlockSize is the side of the spatial blocks in pixels
		BlockSize int `yaml:"blockSize" validate:"gte=0"`

		// ResidualQuantile keeps residual gradients at or above this quantile
		ResidualQuantile float64 `yaml:"residualQuantile" validate:"gte=0,lte=1"`

		// WeightExp is the exponent of the source gradient weights
		WeightExp float64 `yaml:"weightExp"`
	} `yaml:"evaluator"`

	// Kernel selects the angle kernel
	Kernel struct {
		Name    string  `yaml:"name" validate:"omitempty,oneof=power von-mises vonmises von_mises"`
		Gamma   float64 `yaml:"gamma"`
		Kappa   float64 `yaml:"kappa" validate:"gte=0"`
		HCutPix float64 `yaml:"hCutPix" validate:"gte=0"`
		Chi     float64 `yaml:"chi"`
	} `yaml:"kernel"`

	// Mask cleaning and candidate regions
	Mask struct {
		MorphClose int `yaml:"morphClose" validate:"gte=0"`
		MorphOpen  int `yaml:"morphOpen" validate:"gte=0"`

		// CleanMin is the pixel count the working mask must exceed before cleaning
		CleanMin int `yaml:"cleanMin" validate:"gte=0"`

		// Quantiles of the source gradient magnitude that bound candidate regions
		Quantiles []float64 `yaml:"quantiles" validate:"required,min=1,dive,gte=0,lte=1"`

		TrimFrac  float64 `yaml:"trimFrac" validate:"gte=0,lt=0.5"`
		TrimIter  int     `yaml:"trimIter" validate:"gte=0"`
		MinRegion int     `yaml:"minRegion" validate:"gte=0"`
	} `yaml:"mask"`

	// Registration parameters
	Registration struct {
		Subpixel bool `yaml:"subpixel"`

		// Support is the Lanczos half-width
		Support int `yaml:"support" validate:"gte=1,lte=8"`
	} `yaml:"registration"`

	// Controls parameters
	Controls struct {
		WrapShift [2]int `yaml:"wrapShift"`
		Seed      int64  `yaml:"seed"`
	} `yaml:"controls"`

	// Noise model of the control fits
	Noise struct {
		Sigma0 float64 `yaml:"sigma0" validate:"gt=0"`
		Coeff  float64 `yaml:"coeff" validate:"gte=0"`

		// SNQuantile bounds the signal mask: pixels whose sigma exceeds this
		// quantile of sigma over the candidate region are left out
		SNQuantile float64 `yaml:"snQuantile" validate:"gt=0,lte=1"`

		// MaxLag bounds the autocorrelation lags of the effective sample size
		MaxLag int `yaml:"maxLag" validate:"gte=1"`
	} `yaml:"noise"`

	// Permutation null parameters
	Permutation struct {
		Target    int     `yaml:"target" validate:"gte=0"`
		Min       int     `yaml:"min" validate:"gte=0"`
		Max       int     `yaml:"max" validate:"gte=0"`
		EarlyStop bool    `yaml:"earlyStop"`
		Success   float64 `yaml:"success" validate:"gte=0,lte=1"`
		Failure   float64 `yaml:"failure" validate:"gte=0,lte=1"`
		Seed      int64   `yaml:"seed"`
		BlockSize int     `yaml:"blockSize" validate:"gte=0"`
	} `yaml:"permutation"`

	// Bootstrap parameters
	Bootstrap struct {
		Enabled bool  `yaml:"enabled"`
		N       int   `yaml:"n" validate:"gte=0"`
		Seed    int64 `yaml:"seed"`
	} `yaml:"bootstrap"`

	// Harness parameters
	Harness struct {
		SmoothSigmas []float64 `yaml:"smoothSigmas" validate:"required,min=1,dive,gte=0"`
		WeightExps   []float64 `yaml:"weightExps" validate:"required,min=1"`
		Alpha        float64   `yaml:"alpha" validate:"gt=0,lt=1"`

		// Parallelism bounds how many candidate nulls run at once
		Parallelism int `yaml:"parallelism" validate:"gte=1"`
	} `yaml:"harness"`

	// Checkpoint storage
	Checkpoint struct {
		// Backend is "file" for JSON files or "badger" for an embedded store
		Backend string `yaml:"backend" validate:"oneof=file badger"`
		Dir     string `yaml:"dir" validate:"required"`
	} `yaml:"checkpoint"`

	// Output parameters
	Output struct {
		// Dir receives the report and any intermediary results
		Dir string `yaml:"dir" validate:"required"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Bands = []Band{
		{Name: "fine", LambdaMin: 4, LambdaMax: 12},
		{Name: "coarse", LambdaMin: 12, LambdaMax: 36},
	}

	ev := shadow.DefaultOptions()
	cfg.Evaluator.BlockSize = ev.BlockSize
	cfg.Evaluator.ResidualQuantile = ev.ResidualQuantile
	cfg.Evaluator.WeightExp = ev.WeightExp

	cfg.Kernel.Name = "power"
	cfg.Kernel.Gamma = 1
	cfg.Kernel.Kappa = 0.5
	cfg.Kernel.HCutPix = 0
	cfg.Kernel.Chi = 1

	cfg.Mask.MorphClose = ev.MorphClose
	cfg.Mask.MorphOpen = ev.MorphOpen
	cfg.Mask.CleanMin = ev.MorphCleanMin
	cfg.Mask.Quantiles = []float64{0.5}
	cfg.Mask.TrimFrac = 0.05
	cfg.Mask.TrimIter = 1
	cfg.Mask.MinRegion = 10

	cfg.Registration.Subpixel = true
	cfg.Registration.Support = 3

	cfg.Controls.WrapShift = registration.DefaultWrapShift
	cfg.Controls.Seed = 42

	cfg.Noise.Sigma0 = 0.3
	cfg.Noise.Coeff = 0
	cfg.Noise.SNQuantile = 0.9
	cfg.Noise.MaxLag = 8

	perm := montecarlo.DefaultPermutation()
	cfg.Permutation.Target = perm.Target
	cfg.Permutation.Min = perm.Min
	cfg.Permutation.Max = perm.Max
	cfg.Permutation.EarlyStop = perm.EarlyStop
	cfg.Permutation.Success = perm.Success
	cfg.Permutation.Failure = perm.Failure
	cfg.Permutation.Seed = perm.Seed

	boot := montecarlo.DefaultBootstrap()
	cfg.Bootstrap.Enabled = false
	cfg.Bootstrap.N = boot.N
	cfg.Bootstrap.Seed = boot.Seed

	cfg.Harness.SmoothSigmas = []float64{1.0}
	cfg.Harness.WeightExps = []float64{0, 1}
	cfg.Harness.Alpha = 0.05
	cfg.Harness.Parallelism = runtime.NumCPU()

	cfg.Checkpoint.Backend = "file"
	cfg.Checkpoint.Dir = "checkpoints"

	cfg.Output.Dir = "output"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = true

	return cfg
}

var validate = validator.New()

// Validate checks the struct tags and the band windows
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.AngleKernel(); err != nil {
		return err
	}
	_, err := c.BandSpecs()
	return err
}

// BandSpecs converts the configured bands
func (c *Config) BandSpecs() ([]spectral.BandSpec, error) {
	out := make([]spectral.BandSpec, 0, len(c.Bands))
	seen := make(map[string]bool, len(c.Bands))
	for _, b := range c.Bands {
		if seen[b.Name] {
			return nil, fmt.Errorf("duplicate band name %q", b.Name)
		}
		seen[b.Name] = true
		spec, err := spectral.NewBandSpec(b.Name, b.LambdaMin, b.LambdaMax)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// AngleKernel builds the configured angle kernel
func (c *Config) AngleKernel() (shadow.AngleKernel, error) {
	return shadow.ParseKernel(c.Kernel.Name, c.Kernel.Gamma, c.Kernel.Kappa, c.Kernel.HCutPix, c.Kernel.Chi)
}

// HarnessConfig converts the file configuration into harness parameters
func (c *Config) HarnessConfig() (harness.Config, error) {
	if err := c.Validate(); err != nil {
		return harness.Config{}, err
	}
	bands, _ := c.BandSpecs()
	kernel, _ := c.AngleKernel()

	hc := harness.DefaultConfig(bands)
	hc.Evaluator.BlockSize = c.Evaluator.BlockSize
	hc.Evaluator.ResidualQuantile = c.Evaluator.ResidualQuantile
	hc.Evaluator.WeightExp = c.Evaluator.WeightExp
	hc.Evaluator.MorphClose = c.Mask.MorphClose
	hc.Evaluator.MorphOpen = c.Mask.MorphOpen
	hc.Evaluator.MorphCleanMin = c.Mask.CleanMin
	hc.Evaluator.Kernel = kernel

	hc.SmoothSigmas = append([]float64(nil), c.Harness.SmoothSigmas...)
	hc.WeightExps = append([]float64(nil), c.Harness.WeightExps...)
	hc.MaskQuantiles = append([]float64(nil), c.Mask.Quantiles...)
	hc.TrimFrac = c.Mask.TrimFrac
	hc.TrimIter = c.Mask.TrimIter
	hc.MinRegion = c.Mask.MinRegion

	hc.Sigma0 = c.Noise.Sigma0
	hc.SigmaCoeff = c.Noise.Coeff
	hc.SNQuantile = c.Noise.SNQuantile
	hc.MaxLag = c.Noise.MaxLag

	hc.Subpixel = c.Registration.Subpixel
	hc.Support = c.Registration.Support
	hc.WrapShift = c.Controls.WrapShift
	hc.ControlSeed = c.Controls.Seed

	hc.Permutation.Target = c.Permutation.Target
	hc.Permutation.Min = c.Permutation.Min
	hc.Permutation.Max = c.Permutation.Max
	hc.Permutation.EarlyStop = c.Permutation.EarlyStop
	hc.Permutation.Success = c.Permutation.Success
	hc.Permutation.Failure = c.Permutation.Failure
	hc.Permutation.Seed = c.Permutation.Seed
	hc.Permutation.BlockSize = c.Permutation.BlockSize

	hc.RunBootstrap = c.Bootstrap.Enabled
	hc.Bootstrap.N = c.Bootstrap.N
	hc.Bootstrap.Seed = c.Bootstrap.Seed

	hc.Alpha = c.Harness.Alpha
	hc.Parallelism = c.Harness.Parallelism
	return hc, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Load reads the YAML file, then the optional .env files, then applies
// SHADOW_* overrides and validates the result
func Load(configPath string, envFiles ...string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads the given .env files, or ./.env when none is given.
// Missing files are ignored; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("error loading env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from SHADOW_* variables looked up through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"SHADOW_PERM_N":         &c.Permutation.Target,
		"SHADOW_PERM_MIN":       &c.Permutation.Min,
		"SHADOW_PERM_MAX":       &c.Permutation.Max,
		"SHADOW_BOOT_N":         &c.Bootstrap.N,
		"SHADOW_BLOCK_SIZE":     &c.Evaluator.BlockSize,
		"SHADOW_PARALLELISM":    &c.Harness.Parallelism,
		"SHADOW_MORPH_CLEANMIN": &c.Mask.CleanMin,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	seeds := map[string]*int64{
		"SHADOW_PERM_SEED":    &c.Permutation.Seed,
		"SHADOW_BOOT_SEED":    &c.Bootstrap.Seed,
		"SHADOW_CONTROL_SEED": &c.Controls.Seed,
	}
	for key, dst := range seeds {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"SHADOW_RESID_Q":      &c.Evaluator.ResidualQuantile,
		"SHADOW_ALPHA":        &c.Harness.Alpha,
		"SHADOW_KERNEL_GAMMA": &c.Kernel.Gamma,
		"SHADOW_KERNEL_KAPPA": &c.Kernel.Kappa,
		"SHADOW_SIGMA0":       &c.Noise.Sigma0,
		"SHADOW_SN_Q":         &c.Noise.SNQuantile,
	}
	for key, dst := range floats {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	if v, ok := lookup("SHADOW_MASK_QUANTILES"); ok && v != "" {
		qs, err := parseFloatList(v)
		if err != nil {
			return fmt.Errorf("SHADOW_MASK_QUANTILES: %w", err)
		}
		c.Mask.Quantiles = qs
	}
	if v, ok := lookup("SHADOW_KERNEL"); ok && v != "" {
		c.Kernel.Name = strings.TrimSpace(v)
	}
	if v, ok := lookup("SHADOW_CHECKPOINT_DIR"); ok && v != "" {
		c.Checkpoint.Dir = v
	}
	if v, ok := lookup("SHADOW_CHECKPOINT_BACKEND"); ok && v != "" {
		c.Checkpoint.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("SHADOW_BOOTSTRAP"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SHADOW_BOOTSTRAP: %w", err)
		}
		c.Bootstrap.Enabled = b
	}
	return nil
}

func parseFloatList(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
