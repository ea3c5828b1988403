package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration that reads "50ms" style text from the JSON
// config file, environment variables and flags.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the server configuration. Layers, later wins: defaults, JSON
// file, METRO_* environment variables, command-line flags and positional
// arguments.
type Config struct {
	// TCP listen address of the train protocol
	Addr string `json:"addr" env:"METRO_ADDR"`
	// Append-only text copy of every protocol line; empty disables
	LogFile string `json:"log_file" env:"METRO_LOG_FILE"`
	// Also copy protocol lines to stdout
	JournalStdout bool `json:"journal_stdout" env:"METRO_JOURNAL_STDOUT"`
	// SQLite journal path; empty disables
	JournalDB string `json:"journal_db" env:"METRO_JOURNAL_DB"`
	// Maximum concurrent sessions
	MaxClients int `json:"max_clients" env:"METRO_MAX_CLIENTS"`
	// Optional read-only HTTP status address
	HTTPAddr string `json:"http_addr" env:"METRO_HTTP_ADDR"`
	// Optional gRPC health address
	HealthAddr string `json:"health_addr" env:"METRO_HEALTH_ADDR"`
	// Simulated seconds per real second
	TimeScale    float64  `json:"time_scale" env:"METRO_TIME_SCALE"`
	TickInterval Duration `json:"tick_interval" env:"METRO_TICK_INTERVAL"`
	WriteTimeout Duration `json:"write_timeout" env:"METRO_WRITE_TIMEOUT"`
}

func defaultConfig() Config {
	return Config{
		Addr:          ":5000",
		JournalStdout: true,
		MaxClients:    64,
		TimeScale:     1,
		TickInterval:  Duration(50 * time.Millisecond),
		WriteTimeout:  Duration(2 * time.Second),
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return errors.New("listen address is required")
	case c.MaxClients <= 0:
		return fmt.Errorf("max clients must be positive, got %d", c.MaxClients)
	case c.TimeScale <= 0:
		return fmt.Errorf("time scale must be positive, got %v", c.TimeScale)
	case c.TickInterval <= 0:
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval.Std())
	case c.WriteTimeout <= 0:
		return fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout.Std())
	}
	return nil
}

// LoadConfig builds a Config from every layer and validates it.
func LoadConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	path := configFlag(args)
	if path == "" {
		path = resolveConfigPath()
	}
	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.String("config", path, "JSON config file (also METRO_CONFIG)")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP listen address")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "append protocol lines to this file")
	fs.BoolVar(&cfg.JournalStdout, "journal-stdout", cfg.JournalStdout, "copy protocol lines to stdout")
	fs.StringVar(&cfg.JournalDB, "journal-db", cfg.JournalDB, "SQLite journal path")
	fs.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "maximum concurrent sessions")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP status listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address")
	fs.Float64Var(&cfg.TimeScale, "time-scale", cfg.TimeScale, "simulated seconds per real second")
	fs.TextVar(&cfg.TickInterval, "tick", cfg.TickInterval, "simulation polling interval")
	fs.TextVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-write deadline for client sockets")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := applyPositional(&cfg, fs.Args()); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyPositional accepts the classic "<port> [logfile]" invocation.
func applyPositional(cfg *Config, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 1, 2:
	default:
		return fmt.Errorf("usage: metro-server [flags] [<port> [<logfile>]]")
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	cfg.Addr = fmt.Sprintf(":%d", port)
	if len(args) == 2 {
		cfg.LogFile = args[1]
	}
	return nil
}

// loadConfigFile overlays the keys present in the JSON file onto cfg.
func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// configFlag finds -config ahead of flag parsing, since the file layer sits
// below the flags.
func configFlag(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			return ""
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// resolveConfigPath picks the config file:
// 1) METRO_CONFIG;
// 2) metro.json in the working directory;
// 3) metro.json next to the executable.
// It returns "" when none exists.
func resolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("METRO_CONFIG")); p != "" {
		return p
	}
	candidates := []string{"metro.json"}
	if exe, err := os.Executable(); err == nil && exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "metro.json"))
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}
