package chat

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// ClearPolicy decides how an expired typing flag is cleared
type ClearPolicy string

const (
	// ClearRemove deletes the presence entry
	ClearRemove ClearPolicy = "remove"
	// ClearUnset keeps the entry and writes false
	ClearUnset ClearPolicy = "unset"
)

func (p *ClearPolicy) UnmarshalText(text []byte) error {
	switch v := ClearPolicy(text); v {
	case ClearRemove, ClearUnset:
		*p = v
		return nil
	default:
		return fmt.Errorf("unknown typing clear policy %q", text)
	}
}

// Config defines client tunables parsed from environment variables
type Config struct {
	TypingIdleWindow  time.Duration `env:"TYPING_IDLE_WINDOW" envDefault:"1s"`
	TypingClearPolicy ClearPolicy   `env:"TYPING_CLEAR_POLICY" envDefault:"remove"`
	ImageMaxBytes     int           `env:"IMAGE_MAX_BYTES" envDefault:"5242880"`
	ImageMaxPixels    int           `env:"IMAGE_MAX_PIXELS" envDefault:"25000000"`
	ImageMaxDimension int           `env:"IMAGE_MAX_DIMENSION" envDefault:"2048"`
	LookupConcurrency int           `env:"PROFILE_LOOKUP_CONCURRENCY" envDefault:"8"`
	Location          string        `env:"FEED_TIMEZONE" envDefault:"Local"`
}

// DefaultConfig mirrors the envDefault tags of Config
func DefaultConfig() Config {
	return Config{
		TypingIdleWindow:  time.Second,
		TypingClearPolicy: ClearRemove,
		ImageMaxBytes:     5 << 20,
		ImageMaxPixels:    25_000_000,
		ImageMaxDimension: 2048,
		LookupConcurrency: 8,
		Location:          "Local",
	}
}

func (c Config) ImageLimits() ImageLimits {
	return ImageLimits{
		MaxBytes:     c.ImageMaxBytes,
		MaxPixels:    c.ImageMaxPixels,
		MaxDimension: c.ImageMaxDimension,
	}
}

// LoadLocation resolves Config.Location, empty and "Local" mean time.Local
func (c Config) LoadLocation() (*time.Location, error) {
	if c.Location == "" || c.Location == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Location)
}

// Option alters the defaults used during Client construction
type Option interface {
	apply(*options)
}

type optionFunc func(o *options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	cfg   Config
	clock clock.Clock
	loc   *time.Location
}

// WithConfig replaces DefaultConfig
func WithConfig(cfg Config) Option {
	return optionFunc(func(o *options) {
		o.cfg = cfg
	})
}

// WithClock sets the clock driving typing timers and feed labels
func WithClock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// WithLocation sets the calendar used to group and label the feed, it overrides Config.Location
func WithLocation(loc *time.Location) Option {
	return optionFunc(func(o *options) {
		o.loc = loc
	})
}
