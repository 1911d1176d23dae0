package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ICP holds registration settings.
type ICP struct {
	Threshold     float64 `json:"threshold"`
	MaxIterations int     `json:"max_iterations"`
	SampleCap     int     `json:"sample_cap"`
	Sampling      string  `json:"sampling"`
	Seed          uint64  `json:"seed"`
}

// Config holds all configurable paths and comparison settings.
type Config struct {
	// Paths
	WorkDir string `json:"work_dir"`

	// Runtime
	Workers  int    `json:"workers"`
	LogLevel string `json:"log_level"`

	// Comparison settings
	MatchThreshold float64 `json:"match_threshold"`
	DistanceCap    int     `json:"distance_cap"`
	MergeTolerance float64 `json:"merge_tolerance"`
	ICP            ICP     `json:"icp"`

	// CAD
	Kernel       string   `json:"kernel"`
	KernelCells  int      `json:"kernel_cells"`
	CADConverter []string `json:"cad_converter"`

	// Scripting, in seconds
	ScriptTimeout int `json:"script_timeout"`
}

// Load reads a JSON config file and returns Config.
// Fields not set in the file keep their zero values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns a resolved Config with no file and no flags.
func Default() Config {
	var c Config
	c.Resolve(Flags{})
	return c
}

// Resolve fills in any empty fields with defaults.
// CLI flags take priority when non-zero/non-empty.
func (c *Config) Resolve(flags Flags) {
	// CLI flags override config file
	if flags.WorkDir != "" {
		c.WorkDir = flags.WorkDir
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.LogLevel != "" {
		c.LogLevel = flags.LogLevel
	}
	if flags.MatchThreshold > 0 {
		c.MatchThreshold = flags.MatchThreshold
	}
	if flags.ICPThreshold > 0 {
		c.ICP.Threshold = flags.ICPThreshold
	}
	if flags.MaxIterations > 0 {
		c.ICP.MaxIterations = flags.MaxIterations
	}
	if flags.Sampling != "" {
		c.ICP.Sampling = flags.Sampling
	}
	if flags.Kernel != "" {
		c.Kernel = flags.Kernel
	}
	if flags.Converter != "" {
		c.CADConverter = strings.Fields(flags.Converter)
	}

	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "meshcmp")
	} else if !filepath.IsAbs(c.WorkDir) {
		if abs, err := filepath.Abs(c.WorkDir); err == nil {
			c.WorkDir = abs
		}
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}

	// Defaults for comparison settings
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.1
	}
	if c.DistanceCap <= 0 {
		c.DistanceCap = 1000
	}
	if c.MergeTolerance < 0 {
		c.MergeTolerance = 0
	}
	if c.ICP.Threshold <= 0 {
		c.ICP.Threshold = 0.02
	}
	if c.ICP.MaxIterations <= 0 {
		c.ICP.MaxIterations = 30
	}
	if c.ICP.SampleCap <= 0 {
		c.ICP.SampleCap = 5000
	}
	if c.ICP.Sampling == "" {
		c.ICP.Sampling = "stride"
	}
	if c.ICP.Seed == 0 {
		c.ICP.Seed = 1
	}
	if c.Kernel == "" {
		c.Kernel = "sdfx"
	}
	if c.KernelCells <= 0 {
		c.KernelCells = 200
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = 60
	}
}

// ScriptTimeoutDuration returns ScriptTimeout as a time.Duration.
func (c Config) ScriptTimeoutDuration() time.Duration {
	return time.Duration(c.ScriptTimeout) * time.Second
}

// Flags holds CLI flag values that override config file settings.
type Flags struct {
	WorkDir        string
	Workers        int
	LogLevel       string
	MatchThreshold float64
	ICPThreshold   float64
	MaxIterations  int
	Sampling       string
	Kernel         string
	// Converter is a space-separated argv template, e.g.
	// "freecadcmd convert.py {in} {out}".
	Converter string
}
