package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds runtime settings for the sync daemon, merged from flags,
// environment (SYNCD_ prefix), and an optional config file.
type Config struct {
	RPCURL               string
	Contract             string
	PGDSN                string
	StoreKind            string
	HTTPAddr             string
	MaxRetries           int
	RetryBackoff         time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	ReconnectBackoffCap  time.Duration
	CallTimeout          time.Duration
	Workers              int
	QueueSize            int
	FeeBps               uint32
	LogLevel             string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:               v.GetString("rpc"),
		Contract:             v.GetString("contract"),
		PGDSN:                v.GetString("pg-dsn"),
		StoreKind:            v.GetString("store"),
		HTTPAddr:             v.GetString("http-addr"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		MaxReconnectAttempts: v.GetInt("max-reconnect-attempts"),
		ReconnectBackoff:     v.GetDuration("reconnect-backoff"),
		ReconnectBackoffCap:  v.GetDuration("reconnect-backoff-cap"),
		CallTimeout:          v.GetDuration("call-timeout"),
		Workers:              v.GetInt("workers"),
		QueueSize:            v.GetInt("queue-size"),
		FeeBps:               v.GetUint32("fee-bps"),
		LogLevel:             v.GetString("log-level"),
	}

	return cfg, nil
}

// VerifyConfig holds settings for one-off transaction verification.
type VerifyConfig struct {
	RPCURL      string
	Contract    string
	PGDSN       string
	StoreKind   string
	CallTimeout time.Duration
	FeeBps      uint32
	Tx          string
	Actor       string
	LogLevel    string
}

// LoadVerify merges config sources into VerifyConfig.
func LoadVerify(cfgFile string, flags *pflag.FlagSet) (VerifyConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return VerifyConfig{}, err
	}

	cfg := VerifyConfig{
		RPCURL:      v.GetString("rpc"),
		Contract:    v.GetString("contract"),
		PGDSN:       v.GetString("pg-dsn"),
		StoreKind:   v.GetString("store"),
		CallTimeout: v.GetDuration("call-timeout"),
		FeeBps:      v.GetUint32("fee-bps"),
		Tx:          v.GetString("tx"),
		Actor:       v.GetString("actor"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}

// RetryConfig holds settings for a manual dead-letter sweep.
type RetryConfig struct {
	RPCURL           string
	Contract         string
	PGDSN            string
	CallTimeout      time.Duration
	FeeBps           uint32
	MaxRetries       int
	RetryBackoff     time.Duration
	IncludeExhausted bool
	LogLevel         string
}

// LoadRetry merges config sources into RetryConfig.
func LoadRetry(cfgFile string, flags *pflag.FlagSet) (RetryConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return RetryConfig{}, err
	}

	cfg := RetryConfig{
		RPCURL:           v.GetString("rpc"),
		Contract:         v.GetString("contract"),
		PGDSN:            v.GetString("pg-dsn"),
		CallTimeout:      v.GetDuration("call-timeout"),
		FeeBps:           v.GetUint32("fee-bps"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		IncludeExhausted: v.GetBool("include-exhausted"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", "postgres")
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-reconnect-attempts", 10)
	v.SetDefault("reconnect-backoff", 10*time.Second)
	v.SetDefault("reconnect-backoff-cap", 2*time.Minute)
	v.SetDefault("call-timeout", 15*time.Second)
	v.SetDefault("workers", 4)
	v.SetDefault("queue-size", 256)
	v.SetDefault("fee-bps", 250)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
