package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/tinyclj/tinyclj/log"
)

type Config struct {
	LogLevel string `toml:"log-level"`
	// Empty means stderr. Otherwise logs are written to (and rotated at) this path.
	LogFile string `toml:"log-file"`

	STM STM `toml:"stm"`
}

// STM holds the transaction engine options.
type STM struct {
	// Maximum number of attempts of one transaction before it fails.
	RetryLimit int `toml:"retry-limit"`
	// How long a transaction waits for a latch, or for a rival transaction to
	// finish, before it gives up and retries.
	LockWaitTimeout Duration `toml:"lock-wait-timeout"`
	// A transaction must have been running at least this long before it may
	// barge a younger one. Zero means an older transaction always wins.
	BargeWait Duration `toml:"barge-wait"`
	// Backoff between attempts grows from RetryBackoffBase up to RetryBackoffMax.
	RetryBackoffBase Duration `toml:"retry-backoff-base"`
	RetryBackoffMax  Duration `toml:"retry-backoff-max"`

	// Defaults for refs created without explicit history bounds.
	MinHistory int `toml:"min-history"`
	MaxHistory int `toml:"max-history"`
}

// Duration is a time.Duration which reads and writes as a string ("100ms")
// in TOML files.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (c *Config) Validate() error {
	s := &c.STM
	if s.RetryLimit <= 0 {
		return fmt.Errorf("retry limit must be greater than 0")
	}
	if s.LockWaitTimeout.Duration <= 0 {
		return fmt.Errorf("lock wait timeout must be greater than 0")
	}
	if s.BargeWait.Duration < 0 {
		return fmt.Errorf("barge wait must not be negative")
	}
	if s.RetryBackoffBase.Duration < 0 || s.RetryBackoffMax.Duration < s.RetryBackoffBase.Duration {
		return fmt.Errorf("retry backoff must satisfy 0 <= base <= max")
	}
	if s.MinHistory < 0 {
		return fmt.Errorf("min history must not be negative")
	}
	if s.MaxHistory < s.MinHistory {
		return fmt.Errorf("max history must not be less than min history")
	}

	if s.LockWaitTimeout.Duration > 10*time.Second {
		log.Warnf("lock wait timeout %v is very long, blocked transactions will stall for that long", s.LockWaitTimeout)
	}

	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		STM: STM{
			RetryLimit:       10000,
			LockWaitTimeout:  NewDuration(100 * time.Millisecond),
			BargeWait:        NewDuration(0),
			RetryBackoffBase: NewDuration(50 * time.Microsecond),
			RetryBackoffMax:  NewDuration(5 * time.Millisecond),
			MinHistory:       0,
			MaxHistory:       10,
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		STM: STM{
			RetryLimit:       10000,
			LockWaitTimeout:  NewDuration(20 * time.Millisecond),
			BargeWait:        NewDuration(0),
			RetryBackoffBase: NewDuration(10 * time.Microsecond),
			RetryBackoffMax:  NewDuration(time.Millisecond),
			MinHistory:       0,
			MaxHistory:       10,
		},
	}
}

// LoadFile reads a TOML file on top of the default config. Keys absent from
// the file keep their default values.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warnf("config file %s contains unknown keys %v", path, undecoded)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return conf, nil
}
