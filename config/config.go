// Package config loads the simulator configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sarchlab/cachesim/cache"
)

// Environment variables that override configuration values.
const (
	EnvLineSize        = "CACHESIM_LINE_SIZE"
	EnvNumSets         = "CACHESIM_NUM_SETS"
	EnvInstructionWays = "CACHESIM_INSTRUCTION_WAYS"
	EnvDataWays        = "CACHESIM_DATA_WAYS"
	EnvVerbose         = "CACHESIM_VERBOSE"
)

// DefaultEnvFile is read by ApplyEnv when no file is named.
const DefaultEnvFile = ".env"

// SimConfig holds the geometry of both L1 banks.
type SimConfig struct {
	// LineSize is the cache line size in bytes, shared by both banks.
	// Default: 64.
	LineSize int `json:"line_size"`

	// NumSets is the number of sets per bank. Default: 16384.
	NumSets int `json:"num_sets"`

	// InstructionWays is the associativity of the instruction cache.
	// Default: 2.
	InstructionWays int `json:"instruction_ways"`

	// DataWays is the associativity of the data cache. Default: 4.
	DataWays int `json:"data_ways"`

	// Verbose enables read-miss and write-back diagnostics. Default: true.
	Verbose bool `json:"verbose"`
}

// Default returns the reference configuration.
func Default() *SimConfig {
	return &SimConfig{
		LineSize:        cache.DefaultLineSize,
		NumSets:         cache.DefaultNumSets,
		InstructionWays: cache.DefaultInstructionWays,
		DataWays:        cache.DefaultDataWays,
		Verbose:         true,
	}
}

// LoadConfig loads a SimConfig from a JSON file. Fields missing from the
// file keep their default values.
func LoadConfig(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a SimConfig to a JSON file.
func (c *SimConfig) SaveConfig(path string) error {
	data, err := c.JSON()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// JSON returns the indented JSON encoding of the configuration.
func (c *SimConfig) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	return append(data, '\n'), nil
}

// ApplyEnv loads envFile into the process environment and applies the
// CACHESIM_* overrides. An empty envFile means DefaultEnvFile, which may be
// absent.
func (c *SimConfig) ApplyEnv(envFile string) error {
	required := envFile != ""
	if !required {
		envFile = DefaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	for name, field := range map[string]*int{
		EnvLineSize:        &c.LineSize,
		EnvNumSets:         &c.NumSets,
		EnvInstructionWays: &c.InstructionWays,
		EnvDataWays:        &c.DataWays,
	} {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = n
	}

	if value, ok := os.LookupEnv(EnvVerbose); ok {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVerbose, err)
		}
		c.Verbose = v
	}

	return nil
}

// Validate checks that both banks can be built.
func (c *SimConfig) Validate() error {
	if err := c.InstructionBank().Validate(); err != nil {
		return fmt.Errorf("instruction cache: %w", err)
	}
	if err := c.DataBank().Validate(); err != nil {
		return fmt.Errorf("data cache: %w", err)
	}
	return nil
}

// Clone returns a copy of the SimConfig.
func (c *SimConfig) Clone() *SimConfig {
	clone := *c
	return &clone
}

// InstructionBank returns the instruction cache geometry.
func (c *SimConfig) InstructionBank() cache.Config {
	return cache.Config{
		Name:     "Instruction Cache",
		LineSize: c.LineSize,
		NumSets:  c.NumSets,
		Ways:     c.InstructionWays,
	}
}

// DataBank returns the data cache geometry.
func (c *SimConfig) DataBank() cache.Config {
	return cache.Config{
		Name:     "Data Cache",
		LineSize: c.LineSize,
		NumSets:  c.NumSets,
		Ways:     c.DataWays,
	}
}
