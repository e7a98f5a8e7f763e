package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// ErrInvalidConfig is returned for any configuration that must stop the
// tracker from starting.
var ErrInvalidConfig = errors.New("invalid configuration")

// TuningConfig represents the root configuration for the estimator. Every
// field is optional; the Get* accessors supply defaults for omitted values.
// The configuration is read once at startup and is immutable for the run.
type TuningConfig struct {
	// Frequency channels
	FrequenciesHz []float64 `json:"frequencies_hz,omitempty"`
	Sigma         *float64  `json:"sigma,omitempty"`          // Gaussian width in seconds
	ChannelSigmas []float64 `json:"channel_sigmas,omitempty"` // optional per-channel override

	// Peak extraction
	MinPeakDistance *float64 `json:"min_peak_distance,omitempty"` // pixels
	MaxPeaks        *int     `json:"max_peaks,omitempty"`

	// Sensor grid
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`

	// Smoothing filter applied before peak extraction
	FilterSize  *int     `json:"filter_size,omitempty"` // odd; <= 1 disables
	FilterSigma *float64 `json:"filter_sigma,omitempty"`

	// Event queue
	QueueCapacity *int    `json:"queue_capacity,omitempty"` // power of two
	IdleWait      *string `json:"idle_wait,omitempty"`      // duration string like "1ms"

	// Output
	EmitMaps *bool `json:"emit_maps,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// the production defaults (a 128x128 sensor and a single 10 Hz channel).
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		FrequenciesHz:   []float64{10},
		Sigma:           ptrFloat64(0.0002),
		MinPeakDistance: ptrFloat64(16),
		MaxPeaks:        ptrInt(3),
		Width:           ptrInt(128),
		Height:          ptrInt(128),
		FilterSize:      ptrInt(3),
		FilterSigma:     ptrFloat64(0.75),
		QueueCapacity:   ptrInt(1 << 16),
		IdleWait:        ptrString("1ms"),
		EmitMaps:        ptrBool(false),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the JSON file fall back to their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching the current directory and its parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration values are valid. Every failure
// wraps ErrInvalidConfig.
func (c *TuningConfig) Validate() error {
	for i, f := range c.FrequenciesHz {
		if !(f > 0) {
			return invalid("frequencies_hz[%d] must be positive, got %g", i, f)
		}
	}

	if c.Sigma != nil && !(*c.Sigma > 0) {
		return invalid("sigma must be positive, got %g", *c.Sigma)
	}

	if len(c.ChannelSigmas) > 0 {
		if len(c.ChannelSigmas) != len(c.GetFrequencies()) {
			return invalid("channel_sigmas has %d entries for %d frequencies",
				len(c.ChannelSigmas), len(c.GetFrequencies()))
		}
		for i, s := range c.ChannelSigmas {
			if !(s > 0) {
				return invalid("channel_sigmas[%d] must be positive, got %g", i, s)
			}
		}
	}

	if c.MinPeakDistance != nil && *c.MinPeakDistance < 0 {
		return invalid("min_peak_distance must be non-negative, got %g", *c.MinPeakDistance)
	}

	if c.MaxPeaks != nil && *c.MaxPeaks <= 0 {
		return invalid("max_peaks must be positive, got %d", *c.MaxPeaks)
	}

	if c.Width != nil && *c.Width <= 0 {
		return invalid("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return invalid("height must be positive, got %d", *c.Height)
	}

	if c.FilterSize != nil && *c.FilterSize > 1 && *c.FilterSize%2 == 0 {
		return invalid("filter_size must be odd, got %d", *c.FilterSize)
	}
	if c.GetFilterSize() > 1 && c.FilterSigma != nil && !(*c.FilterSigma > 0) {
		return invalid("filter_sigma must be positive, got %g", *c.FilterSigma)
	}

	if c.QueueCapacity != nil {
		n := *c.QueueCapacity
		if n <= 0 || n&(n-1) != 0 {
			return invalid("queue_capacity must be a positive power of two, got %d", n)
		}
	}

	if c.IdleWait != nil && *c.IdleWait != "" {
		d, err := time.ParseDuration(*c.IdleWait)
		if err != nil {
			return invalid("idle_wait %q: %v", *c.IdleWait, err)
		}
		if d <= 0 {
			return invalid("idle_wait must be positive, got %s", d)
		}
	}

	return nil
}

// GetFrequencies returns the configured target frequencies in Hz, in channel
// order.
func (c *TuningConfig) GetFrequencies() []float64 {
	if len(c.FrequenciesHz) == 0 {
		return []float64{10}
	}
	out := make([]float64, len(c.FrequenciesHz))
	copy(out, c.FrequenciesHz)
	return out
}

// GetSigma returns the shared Gaussian width in seconds.
func (c *TuningConfig) GetSigma() float64 {
	if c.Sigma == nil {
		return 0.0002
	}
	return *c.Sigma
}

// GetChannelSigma returns the Gaussian width for channel i, falling back to
// the shared sigma.
func (c *TuningConfig) GetChannelSigma(i int) float64 {
	if i >= 0 && i < len(c.ChannelSigmas) {
		return c.ChannelSigmas[i]
	}
	return c.GetSigma()
}

// GetMinPeakDistance returns the minimum peak separation in pixels.
func (c *TuningConfig) GetMinPeakDistance() float64 {
	if c.MinPeakDistance == nil {
		return 16
	}
	return *c.MinPeakDistance
}

// GetMaxPeaks returns the peak capacity per channel.
func (c *TuningConfig) GetMaxPeaks() int {
	if c.MaxPeaks == nil {
		return 3
	}
	return *c.MaxPeaks
}

// GetWidth returns the sensor width in pixels.
func (c *TuningConfig) GetWidth() int {
	if c.Width == nil {
		return 128
	}
	return *c.Width
}

// GetHeight returns the sensor height in pixels.
func (c *TuningConfig) GetHeight() int {
	if c.Height == nil {
		return 128
	}
	return *c.Height
}

// GetFilterSize returns the smoothing kernel size.
func (c *TuningConfig) GetFilterSize() int {
	if c.FilterSize == nil {
		return 3
	}
	return *c.FilterSize
}

// GetFilterSigma returns the smoothing kernel sigma in pixels.
func (c *TuningConfig) GetFilterSigma() float64 {
	if c.FilterSigma == nil {
		return 0.75
	}
	return *c.FilterSigma
}

// GetQueueCapacity returns the event queue capacity.
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 1 << 16
	}
	return *c.QueueCapacity
}

// GetIdleWait parses and returns the consumer idle wait.
func (c *TuningConfig) GetIdleWait() time.Duration {
	if c.IdleWait == nil || *c.IdleWait == "" {
		return time.Millisecond
	}
	d, err := time.ParseDuration(*c.IdleWait)
	if err != nil || d <= 0 {
		return time.Millisecond
	}
	return d
}

// GetEmitMaps reports whether peak reports carry a confidence map snapshot.
func (c *TuningConfig) GetEmitMaps() bool {
	if c.EmitMaps == nil {
		return false
	}
	return *c.EmitMaps
}
