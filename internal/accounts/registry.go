// Package accounts loads per-account trading configuration from a YAML
// file and keeps it hot-reloadable. Consumers take read-only snapshots;
// the registry never hands out mutable references.
package accounts

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"signalflow/internal/eligibility"
	"signalflow/internal/logger"
	"signalflow/internal/sizing"
)

// Account is one trading account's execution settings.
type Account struct {
	ID          string            `yaml:"-"`
	Broker      string            `yaml:"broker"`
	Active      bool              `yaml:"active"`
	Capital     float64           `yaml:"capital"`
	MarginCheck bool              `yaml:"margin_check"`
	Sizing      sizing.Config     `yaml:"sizing"`
	Eligibility eligibility.Rules `yaml:"eligibility"`
}

// FileConfig maps the accounts file.
type FileConfig struct {
	Accounts map[string]Account `yaml:"accounts"`
}

// Snapshot is the read-only view handed to consumers.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Accounts map[string]Account
}

// Active returns the active accounts in stable ID order.
func (s Snapshot) Active() []Account {
	out := make([]Account, 0, len(s.Accounts))
	for _, acct := range s.Accounts {
		if acct.Active {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Registry loads the accounts file and watches it for updates. A reload
// that fails validation keeps the previous snapshot.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry reads the accounts file and starts watching it.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("accounts registry requires a file path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("accounts reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notify()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current accounts view.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Get looks up one account in the current snapshot.
func (r *Registry) Get(accountID string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.snapshot.Accounts[accountID]
	return acct, ok
}

// Subscribe registers a listener; it immediately receives the current
// snapshot.
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	snap := cloneSnapshot(r.snapshot)
	r.mu.Unlock()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("accounts listener panic: %v", rec)
			}
		}()
		fn(snap)
	}()
}

func (r *Registry) notify() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("accounts listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (r *Registry) reload() error {
	var fileCfg FileConfig
	if err := r.v.Unmarshal(&fileCfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return fmt.Errorf("parsing accounts file: %w", err)
	}

	normalized := make(map[string]Account, len(fileCfg.Accounts))
	for id, acct := range fileCfg.Accounts {
		norm, err := normalizeAccount(id, acct)
		if err != nil {
			// A broken account never replaces a working one; the reload
			// rejects the whole file so the error is impossible to miss.
			return fmt.Errorf("account %s: %w", id, err)
		}
		normalized[norm.ID] = norm
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Accounts: normalized,
	}
	r.mu.Unlock()
	logger.Infof("accounts registry loaded %d accounts from %s", len(normalized), filepath.Base(r.path))
	return nil
}

func normalizeAccount(id string, acct Account) (Account, error) {
	acct.ID = strings.TrimSpace(id)
	if acct.ID == "" {
		return Account{}, fmt.Errorf("account id must not be empty")
	}
	acct.Broker = strings.ToLower(strings.TrimSpace(acct.Broker))
	if acct.Broker == "" {
		acct.Broker = "paper"
	}
	if acct.Active {
		if acct.Capital <= 0 {
			return Account{}, fmt.Errorf("active account needs positive capital, got %v", acct.Capital)
		}
		// Surface sizing misconfiguration at load time, not on the first
		// signal.
		if _, err := sizing.New(acct.Sizing); err != nil {
			return Account{}, err
		}
	}
	return acct, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Accounts: make(map[string]Account, len(src.Accounts)),
	}
	for id, acct := range src.Accounts {
		dst.Accounts[id] = acct
	}
	return dst
}
