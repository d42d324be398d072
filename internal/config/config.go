package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trim21/errgo"

	"pv/internal/copier"
	"pv/internal/progress"
)

// flag names, also used as viper keys and, upper-cased with a PV_ prefix, as env variables.
const (
	KeyBlockSize = "blocksize"
	KeyInterval  = "interval"
	KeyRateLimit = "rate-limit"
	KeySize      = "size"
	KeyWidth     = "width"
	KeyQuiet     = "quiet"
	KeyTTYOnly   = "tty-only"
)

const EnvPrefix = "PV"

var ErrInvalidSize = errors.New("size must be a positive integer")

// Application is the [application] table of a config file.
type Application struct {
	BlockSize string `toml:"block_size"`
	Interval  string `toml:"interval"`
	RateLimit string `toml:"rate_limit"`
	Width     int    `toml:"width"`
	Quiet     bool   `toml:"quiet"`
	TTYOnly   bool   `toml:"tty_only"`
}

type Config struct {
	App Application `toml:"application"`
}

// Settings is the resolved configuration of a run.
type Settings struct {
	Interval  time.Duration
	RateLimit int64
	Size      int64
	BlockSize int
	Width     int
	Quiet     bool
	TTYOnly   bool
}

func LoadFromFile(path string) (Config, error) {
	var cfg Config

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errgo.Wrap(err, "failed to parse config file")
	}

	return cfg, nil
}

// Flags declares the flags that carry settings.
func Flags(fs *pflag.FlagSet) {
	fs.StringP(KeyBlockSize, "b", strconv.Itoa(copier.DefaultBlockSize), "block size in bytes, accepts suffixes like 4k or 1MiB")
	fs.DurationP(KeyInterval, "i", progress.DefaultInterval, "minimum interval between status updates")
	fs.StringP(KeyRateLimit, "L", "0", "limit transfer to this many bytes per second, 0 for no limit")
	fs.StringP(KeySize, "s", "0", "assume the input is this many bytes, for percentages on pipes")
	fs.IntP(KeyWidth, "w", progress.DefaultWidth, "width of the status line")
	fs.BoolP(KeyQuiet, "q", false, "no status line and no summary")
	fs.Bool(KeyTTYOnly, false, "only draw the status line when stderr is a terminal")
}

// NewViper layers flags over PV_* environment variables over cfg.
func NewViper(fs *pflag.FlagSet, cfg Config) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, errgo.Wrap(err, "failed to bind flags")
	}

	app := cfg.App
	if app.BlockSize != "" {
		v.SetDefault(KeyBlockSize, app.BlockSize)
	}
	if app.Interval != "" {
		v.SetDefault(KeyInterval, app.Interval)
	}
	if app.RateLimit != "" {
		v.SetDefault(KeyRateLimit, app.RateLimit)
	}
	if app.Width != 0 {
		v.SetDefault(KeyWidth, app.Width)
	}
	if app.Quiet {
		v.SetDefault(KeyQuiet, true)
	}
	if app.TTYOnly {
		v.SetDefault(KeyTTYOnly, true)
	}

	return v, nil
}

func Resolve(v *viper.Viper) (Settings, error) {
	var s Settings
	var err error

	if s.BlockSize, err = ParseBlockSize(v.GetString(KeyBlockSize)); err != nil {
		return s, err
	}

	if s.Interval, err = ParseInterval(v.GetString(KeyInterval)); err != nil {
		return s, err
	}

	if s.RateLimit, err = parseOptionalSize(v.GetString(KeyRateLimit)); err != nil {
		return s, errgo.Wrap(err, "invalid rate limit")
	}

	if s.Size, err = parseOptionalSize(v.GetString(KeySize)); err != nil {
		return s, errgo.Wrap(err, "invalid size")
	}

	s.Width = v.GetInt(KeyWidth)
	if s.Width < 1 {
		return s, fmt.Errorf("invalid width %d: must be positive", s.Width)
	}

	s.Quiet = v.GetBool(KeyQuiet)
	s.TTYOnly = v.GetBool(KeyTTYOnly)

	return s, nil
}

// ParseBlockSize parses a positive whole byte count such as "512", "4k" or "1MiB".
func ParseBlockSize(s string) (int, error) {
	if strings.Contains(s, ".") {
		return 0, errgo.Wrap(ErrInvalidSize, fmt.Sprintf("invalid block size %q: not a whole number", s))
	}

	n, err := parseSize(s)
	if err != nil {
		return 0, errgo.Wrap(err, "invalid block size")
	}

	if n < 1 {
		return 0, errgo.Wrap(ErrInvalidSize, fmt.Sprintf("invalid block size %q", s))
	}

	if int64(int(n)) != n {
		return 0, fmt.Errorf("invalid block size %q: too large", s)
	}

	return int(n), nil
}

func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, errgo.Wrap(err, "invalid interval")
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid interval %q: must be positive", s)
	}

	return d, nil
}

func parseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, errgo.Wrap(ErrInvalidSize, err.Error())
	}

	return n, nil
}

// parseOptionalSize accepts 0 as unset.
func parseOptionalSize(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}

	return parseSize(s)
}
