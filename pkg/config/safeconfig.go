// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"strings"
	"sync"
	"time"

	"github.com/DataDog/viper"
	"github.com/spf13/pflag"

	"github.com/DataDog/sigmon/pkg/util/log"
)

// Config is the interface exposed to consumers of the configuration. Only the
// accessors the monitor needs are part of it.
type Config interface {
	Set(key string, value interface{})
	SetDefault(key string, value interface{})
	IsSet(key string) bool

	Get(key string) interface{}
	GetBool(key string) bool
	GetInt(key string) int
	GetInt64(key string) int64
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
	GetString(key string) string
	GetStringSlice(key string) []string
	GetStringMapString(key string) map[string]string
	AllSettings() map[string]interface{}

	SetConfigName(name string)
	SetConfigFile(path string)
	AddConfigPath(path string)
	ConfigFileUsed() string
	ReadInConfig() error

	BindEnv(key string, envvars ...string)
	BindEnvAndSetDefault(key string, val interface{}, envvars ...string)
	BindPFlag(key string, flag *pflag.Flag) error
	SetEnvPrefix(in string)
	SetEnvKeyReplacer(r *strings.Replacer)
}

// safeConfig wraps viper with a lock so concurrent readers and hot reloads
// cannot race.
type safeConfig struct {
	*viper.Viper
	sync.RWMutex
	envPrefix string
}

var _ Config = (*safeConfig)(nil)

// Set wraps Viper for concurrent access
func (c *safeConfig) Set(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.Set(key, value)
}

// SetDefault wraps Viper for concurrent access
func (c *safeConfig) SetDefault(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetDefault(key, value)
}

// IsSet wraps Viper for concurrent access
func (c *safeConfig) IsSet(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.IsSet(key)
}

// Get wraps Viper for concurrent access
func (c *safeConfig) Get(key string) interface{} {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.Get(key)
}

// GetBool wraps Viper for concurrent access
func (c *safeConfig) GetBool(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetBool(key)
}

// GetInt wraps Viper for concurrent access
func (c *safeConfig) GetInt(key string) int {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetInt(key)
}

// GetInt64 wraps Viper for concurrent access
func (c *safeConfig) GetInt64(key string) int64 {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetInt64(key)
}

// GetFloat64 wraps Viper for concurrent access
func (c *safeConfig) GetFloat64(key string) float64 {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetFloat64(key)
}

// GetDuration wraps Viper for concurrent access
func (c *safeConfig) GetDuration(key string) time.Duration {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetDuration(key)
}

// GetString wraps Viper for concurrent access
func (c *safeConfig) GetString(key string) string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetString(key)
}

// GetStringSlice wraps Viper for concurrent access
func (c *safeConfig) GetStringSlice(key string) []string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetStringSlice(key)
}

// GetStringMapString wraps Viper for concurrent access
func (c *safeConfig) GetStringMapString(key string) map[string]string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetStringMapString(key)
}

// AllSettings wraps Viper for concurrent access
func (c *safeConfig) AllSettings() map[string]interface{} {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.AllSettings()
}

// SetConfigName wraps Viper for concurrent access
func (c *safeConfig) SetConfigName(name string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetConfigName(name)
}

// SetConfigFile wraps Viper for concurrent access
func (c *safeConfig) SetConfigFile(path string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetConfigFile(path)
}

// AddConfigPath wraps Viper for concurrent access
func (c *safeConfig) AddConfigPath(path string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.AddConfigPath(path)
}

// ConfigFileUsed wraps Viper for concurrent access
func (c *safeConfig) ConfigFileUsed() string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.ConfigFileUsed()
}

// ReadInConfig wraps Viper for concurrent access
func (c *safeConfig) ReadInConfig() error {
	c.Lock()
	defer c.Unlock()
	return c.Viper.ReadInConfig()
}

// BindEnv wraps Viper for concurrent access
func (c *safeConfig) BindEnv(key string, envvars ...string) {
	c.Lock()
	defer c.Unlock()
	if err := c.Viper.BindEnv(append([]string{key}, envvars...)...); err != nil {
		log.Errorf("could not bind environment for %q: %v", key, err) //nolint:errcheck
	}
}

// BindEnvAndSetDefault binds an environment variable and sets a default for the given key
func (c *safeConfig) BindEnvAndSetDefault(key string, val interface{}, envvars ...string) {
	c.SetDefault(key, val)
	c.BindEnv(key, envvars...)
}

// BindPFlag wraps Viper for concurrent access
func (c *safeConfig) BindPFlag(key string, flag *pflag.Flag) error {
	c.Lock()
	defer c.Unlock()
	return c.Viper.BindPFlag(key, flag)
}

// SetEnvPrefix wraps Viper for concurrent access
func (c *safeConfig) SetEnvPrefix(in string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetEnvPrefix(in)
	c.envPrefix = in
}

// SetEnvKeyReplacer wraps Viper for concurrent access
func (c *safeConfig) SetEnvKeyReplacer(r *strings.Replacer) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetEnvKeyReplacer(r)
}

// NewConfig returns a new Config object backed by viper.
func NewConfig(name string, envPrefix string, envKeyReplacer *strings.Replacer) Config {
	config := safeConfig{
		Viper: viper.New(),
	}
	config.SetTypeByDefaultValue(true)
	config.SetConfigName(name)
	config.SetEnvPrefix(envPrefix)
	config.SetEnvKeyReplacer(envKeyReplacer)
	config.AutomaticEnv()
	return &config
}
