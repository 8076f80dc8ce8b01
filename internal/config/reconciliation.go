package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Reconciliation holds tunables for payment status classification and
// payload business rules. It may be edited at runtime.
type Reconciliation struct {
	DueDay           int     `mapstructure:"dueDay"`
	AmountTolerance  float64 `mapstructure:"amountTolerance"`
	ReferencePattern string  `mapstructure:"referencePattern"`
}

func DefaultReconciliation() Reconciliation {
	return Reconciliation{
		DueDay:          5,
		AmountTolerance: 0.01,
	}
}

type ReconciliationHolder struct {
	current atomic.Value // holds Reconciliation
}

// NewStaticReconciliation returns a holder that never reloads.
func NewStaticReconciliation(cfg Reconciliation) *ReconciliationHolder {
	holder := &ReconciliationHolder{}
	holder.current.Store(normalizeReconciliation(cfg))
	return holder
}

// NewReconciliationHolder reads the reconciliation file when present and
// watches it for changes. A missing file falls back to defaults.
func NewReconciliationHolder(cfg Config, log *zap.Logger) (*ReconciliationHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.reconciliation")

	defaults := DefaultReconciliation()
	defaults.ReferencePattern = cfg.Gateway.ReferencePattern

	v := viper.New()
	v.SetDefault("reconciliation.dueDay", defaults.DueDay)
	v.SetDefault("reconciliation.amountTolerance", defaults.AmountTolerance)
	v.SetDefault("reconciliation.referencePattern", defaults.ReferencePattern)

	path := strings.TrimSpace(cfg.ReconciliationConfigPath)
	watch := false
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
			watch = true
		}
	}

	var current Reconciliation
	if err := v.UnmarshalKey("reconciliation", &current); err != nil {
		return nil, err
	}
	if err := validateReconciliation(current); err != nil {
		return nil, err
	}

	holder := NewStaticReconciliation(current)
	if !watch {
		log.Info("reconciliation config file not found, using defaults", zap.String("path", path))
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Reconciliation
		if err := v.UnmarshalKey("reconciliation", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateReconciliation(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(normalizeReconciliation(updated))
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReconciliationHolder) Get() Reconciliation {
	if h == nil {
		return DefaultReconciliation()
	}
	return h.current.Load().(Reconciliation)
}

func validateReconciliation(cfg Reconciliation) error {
	if cfg.DueDay < 1 || cfg.DueDay > 28 {
		return errors.New("reconciliation.dueDay must be between 1 and 28")
	}
	if cfg.AmountTolerance < 0 {
		return errors.New("reconciliation.amountTolerance must not be negative")
	}
	if pattern := strings.TrimSpace(cfg.ReferencePattern); pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("reconciliation.referencePattern: %w", err)
		}
	}
	return nil
}

func normalizeReconciliation(cfg Reconciliation) Reconciliation {
	if cfg.DueDay < 1 {
		cfg.DueDay = 1
	}
	if cfg.DueDay > 28 {
		cfg.DueDay = 28
	}
	if cfg.AmountTolerance < 0 {
		cfg.AmountTolerance = 0
	}
	cfg.ReferencePattern = strings.TrimSpace(cfg.ReferencePattern)
	return cfg
}
