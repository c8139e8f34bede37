package config

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// Defaults reproduce the classic smoke-test program byte for byte, so a
// zero-config `hostprobe run` is a drop-in replacement for it.
const (
	DefaultTargetPath   = "/tmp/test_file.txt"
	DefaultPayload      = "Hello from test program\n"
	DefaultFileMode     = fs.FileMode(0o644)
	DefaultShell        = "/bin/sh"
	DefaultShellCommand = "echo 'Nested command via system()'"
)

// Config holds the probe sequence settings
type Config struct {
	// TargetPath is the file the file probe creates/truncates on every run
	TargetPath string

	// Payload is the literal byte sequence written to TargetPath
	Payload []byte

	// FileMode is the permission bits used when creating TargetPath
	FileMode fs.FileMode

	// Shell is the command interpreter used by the shell probe
	Shell string

	// ShellCommand is the literal command string handed to the interpreter
	ShellCommand string

	// HashAlgo specifies the hash algorithm for capture CIDs ("sha256" or "blake3")
	HashAlgo string

	// DeltaCodec selects compression for stored deltas ("zstd" or "xz")
	DeltaCodec string

	// SettleWindow bounds how long the watch witness waits for fsnotify events
	SettleWindow time.Duration

	// Trace holds configuration for the optional kernel syscall witness
	Trace TraceConfig
}

// TraceConfig captures settings for the Linux eBPF syscall witness
type TraceConfig struct {
	Enable          bool
	ProgramPath     string
	EventBufferSize int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		TargetPath:   DefaultTargetPath,
		Payload:      []byte(DefaultPayload),
		FileMode:     DefaultFileMode,
		Shell:        DefaultShell,
		ShellCommand: DefaultShellCommand,
		HashAlgo:     "sha256",
		DeltaCodec:   "zstd",
		SettleWindow: 500 * time.Millisecond,
		Trace:        defaultTraceConfig(),
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if path := os.Getenv("HOSTPROBE_TARGET_PATH"); path != "" {
		cfg.TargetPath = path
	}

	if payload := os.Getenv("HOSTPROBE_PAYLOAD"); payload != "" {
		cfg.Payload = []byte(payload)
	}

	if mode := os.Getenv("HOSTPROBE_FILE_MODE"); mode != "" {
		if bits, err := strconv.ParseUint(mode, 8, 32); err == nil {
			cfg.FileMode = fs.FileMode(bits)
		}
	}

	if shell := os.Getenv("HOSTPROBE_SHELL"); shell != "" {
		cfg.Shell = shell
	}

	if command := os.Getenv("HOSTPROBE_SHELL_COMMAND"); command != "" {
		cfg.ShellCommand = command
	}

	if hashAlgo := os.Getenv("HOSTPROBE_HASH_ALGO"); hashAlgo != "" {
		cfg.HashAlgo = hashAlgo
	}

	if codec := os.Getenv("HOSTPROBE_DELTA_CODEC"); codec != "" {
		cfg.DeltaCodec = codec
	}

	if window := os.Getenv("HOSTPROBE_SETTLE_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			cfg.SettleWindow = d
		}
	}

	cfg.Trace = loadTraceConfigFromEnv(cfg.Trace)

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.TargetPath == "" {
		return fmt.Errorf("target path must not be empty")
	}

	if c.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}

	if c.ShellCommand == "" {
		return fmt.Errorf("shell command must not be empty")
	}

	if c.HashAlgo != "sha256" && c.HashAlgo != "blake3" {
		return fmt.Errorf("invalid hash algorithm: %s (must be 'sha256' or 'blake3')", c.HashAlgo)
	}

	if c.DeltaCodec != "zstd" && c.DeltaCodec != "xz" {
		return fmt.Errorf("invalid delta codec: %s (must be 'zstd' or 'xz')", c.DeltaCodec)
	}

	if c.SettleWindow <= 0 {
		return fmt.Errorf("settle window must be positive, got: %s", c.SettleWindow)
	}

	if err := c.Trace.Validate(); err != nil {
		return fmt.Errorf("trace config invalid: %w", err)
	}

	return nil
}

func defaultTraceConfig() TraceConfig {
	return TraceConfig{
		Enable:          false,
		ProgramPath:     "",
		EventBufferSize: 4096,
	}
}

func loadTraceConfigFromEnv(cfg TraceConfig) TraceConfig {
	if v := os.Getenv("HOSTPROBE_TRACE_ENABLE"); v != "" {
		cfg.Enable = v == "1" || v == "true" || v == "TRUE"
	}
	if v := os.Getenv("HOSTPROBE_TRACE_PROGRAM"); v != "" {
		cfg.ProgramPath = v
	}
	if v := os.Getenv("HOSTPROBE_TRACE_EVENT_BUFFER"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			cfg.EventBufferSize = size
		}
	}

	return cfg
}

// Validate ensures syscall witness settings make sense before probes attach
func (c TraceConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive")
	}
	return nil
}
