package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CommissionDefaults is the fallback commission schedule used when no
// rule rows exist for a group and no config file overrides them.
type CommissionDefaults struct {
	Rules []CommissionRuleDefault `mapstructure:"rules"`
}

type CommissionRuleDefault struct {
	TriggerEvent   string  `mapstructure:"triggerEvent"`
	CommissionType string  `mapstructure:"commissionType"`
	Rate           float64 `mapstructure:"rate"`
	MinAmount      float64 `mapstructure:"minAmount"`
	MaxAmount      float64 `mapstructure:"maxAmount"`
}

func DefaultCommissionConfig() CommissionDefaults {
	return CommissionDefaults{
		Rules: []CommissionRuleDefault{
			{TriggerEvent: "application_approved", CommissionType: "percentage", Rate: 1.5, MinAmount: 50, MaxAmount: 5000},
			{TriggerEvent: "loan_funded", CommissionType: "percentage", Rate: 0.5, MinAmount: 25, MaxAmount: 2500},
		},
	}
}

type CommissionConfigHolder struct {
	current atomic.Value // holds CommissionDefaults
}

func NewCommissionConfigHolder() (*CommissionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("commission")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/omnifin/config") // Volume-mounted config
	v.AddConfigPath("/etc/omnifin")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("OMNIFIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultCommissionConfig()
		v.SetDefault("commission.rules", defaults.Rules)
	}

	var cfg CommissionDefaults
	if err := v.UnmarshalKey("commission", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		cfg = DefaultCommissionConfig()
	}
	if err := validateCommissionConfig(cfg); err != nil {
		return nil, err
	}

	holder := &CommissionConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CommissionDefaults
		if err := v.UnmarshalKey("commission", &updated); err != nil {
			log.Printf("[commission-config] reload failed: %v", err)
			return
		}
		if err := validateCommissionConfig(updated); err != nil {
			log.Printf("[commission-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[commission-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticCommissionConfig wraps a fixed schedule without file
// watching. Used by tests and embedded callers.
func NewStaticCommissionConfig(cfg CommissionDefaults) (*CommissionConfigHolder, error) {
	if err := validateCommissionConfig(cfg); err != nil {
		return nil, err
	}
	holder := &CommissionConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *CommissionConfigHolder) Get() CommissionDefaults {
	return h.current.Load().(CommissionDefaults)
}

func validateCommissionConfig(cfg CommissionDefaults) error {
	for _, rule := range cfg.Rules {
		if rule.TriggerEvent == "" {
			return errors.New("commission.rules: triggerEvent cannot be empty")
		}
		switch rule.CommissionType {
		case "percentage", "fixed", "tiered":
		default:
			return errors.New("commission.rules: unknown commissionType " + rule.CommissionType)
		}
		if rule.Rate < 0 {
			return errors.New("commission.rules: rate cannot be negative")
		}
		if rule.MaxAmount > 0 && rule.MinAmount > rule.MaxAmount {
			return errors.New("commission.rules: minAmount exceeds maxAmount")
		}
	}
	return nil
}
