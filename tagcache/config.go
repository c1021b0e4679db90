/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tagcache

import (
	"fmt"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "cache"

const (
	cfgKeyMaxKeys                  = "maxKeys"
	cfgKeyMaxMemory                = "maxMemory"
	cfgKeyDefaultTTL               = "defaultTTL"
	cfgKeyCleanupInterval          = "cleanupInterval"
	cfgKeyPersistenceTTLThreshold  = "persistence.ttlThreshold"
	cfgKeyPersistenceQueueSize     = "persistence.queueSize"
	cfgKeyPersistenceRetryAttempts = "persistence.retryAttempts"
	cfgKeyPersistenceRetryInterval = "persistence.retryInterval"
)

// Default and restriction values.
const (
	DefaultMaxKeys         = 10000
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = time.Minute

	DefaultPersistenceTTLThreshold  = time.Hour
	DefaultPersistenceQueueSize     = 1024
	DefaultPersistenceRetryAttempts = 3
	DefaultPersistenceRetryInterval = time.Second

	MinMaxMemoryBytes = 1024 * 1024
)

// Config represents a set of configuration parameters for the cache.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// MaxKeys is the maximum number of entries the cache may hold.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// MaxMemory is the approximate memory ceiling for all entries. 0 means unlimited.
	MaxMemory config.ByteSize `mapstructure:"maxMemory" yaml:"maxMemory" json:"maxMemory"`

	// DefaultTTL is applied to entries stored without an explicit TTL. 0 means no expiration.
	DefaultTTL config.TimeDuration `mapstructure:"defaultTTL" yaml:"defaultTTL" json:"defaultTTL"`

	// CleanupInterval is the period of the background purge of expired entries.
	// 0 disables the background cleanup; expired entries are then purged lazily on access.
	CleanupInterval config.TimeDuration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`

	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence" json:"persistence"`

	keyPrefix string
}

// PersistenceConfig is a configuration for the write-behind persistence of long-lived entries.
type PersistenceConfig struct {
	// TTLThreshold is the TTL above which an entry is considered long-lived
	// and mirrored to the external store. 0 disables persistence even when a Store is configured.
	TTLThreshold config.TimeDuration `mapstructure:"ttlThreshold" yaml:"ttlThreshold" json:"ttlThreshold"`

	// QueueSize is the capacity of the persistence operation queue.
	// When the queue is full, operations are dropped (and logged), never blocked on.
	QueueSize int `mapstructure:"queueSize" yaml:"queueSize" json:"queueSize"`

	// RetryAttempts is the maximum number of retries for a failed store operation.
	RetryAttempts int `mapstructure:"retryAttempts" yaml:"retryAttempts" json:"retryAttempts"`

	// RetryInterval is the initial backoff interval between retries.
	RetryInterval config.TimeDuration `mapstructure:"retryInterval" yaml:"retryInterval" json:"retryInterval"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:       opts.keyPrefix,
		MaxKeys:         DefaultMaxKeys,
		DefaultTTL:      config.TimeDuration(DefaultTTL),
		CleanupInterval: config.TimeDuration(DefaultCleanupInterval),
		Persistence: PersistenceConfig{
			TTLThreshold:  config.TimeDuration(DefaultPersistenceTTLThreshold),
			QueueSize:     DefaultPersistenceQueueSize,
			RetryAttempts: DefaultPersistenceRetryAttempts,
			RetryInterval: config.TimeDuration(DefaultPersistenceRetryInterval),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the cache in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxKeys, DefaultMaxKeys)
	dp.SetDefault(cfgKeyDefaultTTL, DefaultTTL.String())
	dp.SetDefault(cfgKeyCleanupInterval, DefaultCleanupInterval.String())
	dp.SetDefault(cfgKeyPersistenceTTLThreshold, DefaultPersistenceTTLThreshold.String())
	dp.SetDefault(cfgKeyPersistenceQueueSize, DefaultPersistenceQueueSize)
	dp.SetDefault(cfgKeyPersistenceRetryAttempts, DefaultPersistenceRetryAttempts)
	dp.SetDefault(cfgKeyPersistenceRetryInterval, DefaultPersistenceRetryInterval.String())
}

// Set sets cache configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxKeys, fmt.Errorf("should be > 0"))
	}

	if c.MaxMemory, err = dp.GetSizeInBytes(cfgKeyMaxMemory); err != nil {
		return err
	}
	if c.MaxMemory != 0 && c.MaxMemory < MinMaxMemoryBytes {
		return dp.WrapKeyErr(cfgKeyMaxMemory,
			fmt.Errorf("should be 0 (unlimited) or >= %s", bytefmt.ByteSize(MinMaxMemoryBytes)))
	}

	var defaultTTL time.Duration
	if defaultTTL, err = dp.GetDuration(cfgKeyDefaultTTL); err != nil {
		return err
	}
	if defaultTTL < 0 {
		return dp.WrapKeyErr(cfgKeyDefaultTTL, fmt.Errorf("should be >= 0"))
	}
	c.DefaultTTL = config.TimeDuration(defaultTTL)

	var cleanupInterval time.Duration
	if cleanupInterval, err = dp.GetDuration(cfgKeyCleanupInterval); err != nil {
		return err
	}
	if cleanupInterval < 0 {
		return dp.WrapKeyErr(cfgKeyCleanupInterval, fmt.Errorf("should be >= 0"))
	}
	c.CleanupInterval = config.TimeDuration(cleanupInterval)

	return c.setPersistenceConfig(dp)
}

func (c *Config) setPersistenceConfig(dp config.DataProvider) error {
	var err error

	var ttlThreshold time.Duration
	if ttlThreshold, err = dp.GetDuration(cfgKeyPersistenceTTLThreshold); err != nil {
		return err
	}
	if ttlThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceTTLThreshold, fmt.Errorf("should be >= 0"))
	}
	c.Persistence.TTLThreshold = config.TimeDuration(ttlThreshold)

	if c.Persistence.QueueSize, err = dp.GetInt(cfgKeyPersistenceQueueSize); err != nil {
		return err
	}
	if c.Persistence.QueueSize <= 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceQueueSize, fmt.Errorf("should be > 0"))
	}

	if c.Persistence.RetryAttempts, err = dp.GetInt(cfgKeyPersistenceRetryAttempts); err != nil {
		return err
	}
	if c.Persistence.RetryAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceRetryAttempts, fmt.Errorf("should be >= 0"))
	}

	var retryInterval time.Duration
	if retryInterval, err = dp.GetDuration(cfgKeyPersistenceRetryInterval); err != nil {
		return err
	}
	if retryInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyPersistenceRetryInterval, fmt.Errorf("should be > 0"))
	}
	c.Persistence.RetryInterval = config.TimeDuration(retryInterval)

	return nil
}
