package tiers

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/evertide/evertide/pkg/observability"
)

// tierFile is the on-disk YAML shape of the tier table
type tierFile struct {
	DefaultTier string                `yaml:"default_tier"`
	Tiers       map[string]tierLimits `yaml:"tiers"`
	Orgs        map[string]string     `yaml:"orgs"`
}

type tierLimits struct {
	MonthlyEventLimit int64 `yaml:"monthly_event_limit"`
	HistoryMonths     int   `yaml:"history_months"`
}

// FileResolver resolves plans from a YAML tier table, reloading it when the
// file changes on disk
type FileResolver struct {
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher

	mu          sync.RWMutex
	defaultTier string
	tiers       map[string]tierLimits
	orgs        map[uuid.UUID]string
}

// NewFileResolver loads the tier table from path and starts watching it for
// changes. Call Close to stop the watcher.
func NewFileResolver(path string, logger *observability.Logger) (*FileResolver, error) {
	r := &FileResolver{
		path:   path,
		logger: logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create tier file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch tier file: %w", err)
	}
	r.watcher = watcher

	go r.watch()
	return r, nil
}

// load parses the tier file and swaps in the new table
func (r *FileResolver) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read tier file: %w", err)
	}

	var f tierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse tier file: %w", err)
	}
	if f.DefaultTier == "" {
		return fmt.Errorf("tier file missing default_tier")
	}
	if _, ok := f.Tiers[f.DefaultTier]; !ok {
		return fmt.Errorf("default_tier %q not defined in tiers", f.DefaultTier)
	}

	orgs := make(map[uuid.UUID]string, len(f.Orgs))
	for id, tier := range f.Orgs {
		orgID, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("invalid organization id %q in tier file: %w", id, err)
		}
		if _, ok := f.Tiers[tier]; !ok {
			return fmt.Errorf("organization %s references unknown tier %q", id, tier)
		}
		orgs[orgID] = tier
	}

	r.mu.Lock()
	r.defaultTier = f.DefaultTier
	r.tiers = f.Tiers
	r.orgs = orgs
	r.mu.Unlock()
	return nil
}

// watch reloads the table whenever the file is rewritten. A broken file keeps
// the previous table in place.
func (r *FileResolver) watch() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.load(); err != nil {
				r.logger.WithError(err).Warn("Tier file reload failed, keeping previous table")
				continue
			}
			r.logger.Infof("Tier file reloaded from %s", r.path)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("Tier file watcher error")
		}
	}
}

// Resolve returns the plan for an organization, falling back to the default tier
func (r *FileResolver) Resolve(ctx context.Context, orgID uuid.UUID) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tier, ok := r.orgs[orgID]
	if !ok {
		tier = r.defaultTier
	}
	limits := r.tiers[tier]
	return &Plan{
		Tier:              tier,
		MonthlyEventLimit: limits.MonthlyEventLimit,
		HistoryMonths:     limits.HistoryMonths,
	}, nil
}

// Close stops the file watcher
func (r *FileResolver) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
