package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the operator-tunable billing knobs. It is loaded
// from billing.yml and hot-reloaded on change, so numbering templates and
// due-date policies can be adjusted without a restart.
type BillingConfig struct {
	// NumberTemplate drives invoice number formatting, e.g.
	// "INV-{YYYY}{MM}-{SEQ3}".
	NumberTemplate string `mapstructure:"numberTemplate"`

	// DueDays is the default payment term applied when an invoice is
	// issued without an explicit due date.
	DueDays int `mapstructure:"dueDays"`

	// DefaultTaxRateBps is the fallback tax rate in basis points used
	// when a checkout request does not carry one.
	DefaultTaxRateBps int64 `mapstructure:"defaultTaxRateBps"`

	// PublicRateLimit bounds requests per minute on the public invoice
	// surface, keyed per org, token and client IP.
	PublicRateLimit  int `mapstructure:"publicRateLimit"`
	PublicRateBurst  int `mapstructure:"publicRateBurst"`
	OverdueGraceDays int `mapstructure:"overdueGraceDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		NumberTemplate:    "INV-{YYYY}{MM}-{SEQ3}",
		DueDays:           14,
		DefaultTaxRateBps: 0,
		PublicRateLimit:   30,
		PublicRateBurst:   10,
		OverdueGraceDays:  0,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/paylink/config") // Volume-mounted config
	v.AddConfigPath("/etc/paylink")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("PAYLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.numberTemplate", defaults.NumberTemplate)
	v.SetDefault("billing.dueDays", defaults.DueDays)
	v.SetDefault("billing.defaultTaxRateBps", defaults.DefaultTaxRateBps)
	v.SetDefault("billing.publicRateLimit", defaults.PublicRateLimit)
	v.SetDefault("billing.publicRateBurst", defaults.PublicRateBurst)
	v.SetDefault("billing.overdueGraceDays", defaults.OverdueGraceDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg, without
// file watching. Used in tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateBillingConfig(cfg BillingConfig) error {
	if strings.TrimSpace(cfg.NumberTemplate) == "" {
		return errors.New("billing.numberTemplate cannot be empty")
	}
	if cfg.DueDays < 0 {
		return errors.New("billing.dueDays cannot be negative")
	}
	if cfg.PublicRateLimit <= 0 {
		return errors.New("billing.publicRateLimit must be positive")
	}
	return nil
}
