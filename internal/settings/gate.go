// Package settings gates auto-learning on per-workspace automation
// settings, caching them in memory.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
	"fjacquet/txrules/internal/store"

	"github.com/dgraph-io/ristretto"
)

// Gate reads settings through a cache and answers whether auto-learning is
// allowed. Workspaces without stored settings get the defaults.
type Gate struct {
	store  store.SettingsStore
	logger logging.Logger
	cache  *ristretto.Cache
	ttl    time.Duration
	now    func() time.Time

	// Cached keys, so Purge can drop them all, and a per-key generation
	// bumped on every invalidation. A load started before an invalidation
	// must not be cached after it.
	keys struct {
		sync.Mutex
		m    map[string]struct{}
		gens map[string]uint64
	}
}

// NewGate creates a Gate. A ttl of zero caches entries until they are
// invalidated by Save.
func NewGate(s store.SettingsStore, logger logging.Logger, ttl time.Duration, maxCost int64) (*Gate, error) {
	if maxCost <= 0 {
		maxCost = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings cache: %w", err)
	}
	g := &Gate{
		store:  s,
		logger: logger,
		cache:  cache,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
	g.keys.m = make(map[string]struct{})
	g.keys.gens = make(map[string]uint64)
	return g, nil
}

func cacheKey(workspaceID string) string {
	return "settings:" + workspaceID
}

// Get returns the settings of a workspace, or the defaults when none are
// stored.
func (g *Gate) Get(ctx context.Context, workspaceID string) (models.Settings, error) {
	key := cacheKey(workspaceID)
	if v, ok := g.cache.Get(key); ok {
		if s, ok := v.(models.Settings); ok {
			return s.Clone(), nil
		}
	}

	gen := g.generation(key)
	stored, err := g.store.GetSettings(ctx, workspaceID)
	var s models.Settings
	switch {
	case err == nil:
		s = stored.Clone()
	case errors.Is(err, store.ErrNotFound):
		s = models.DefaultSettings(workspaceID)
	default:
		return models.Settings{}, fmt.Errorf("failed to load settings for workspace %s: %w", workspaceID, err)
	}

	g.put(key, s, gen)
	return s.Clone(), nil
}

func (g *Gate) generation(key string) uint64 {
	g.keys.Lock()
	defer g.keys.Unlock()
	return g.keys.gens[key]
}

// put caches s unless key was invalidated since generation gen was read.
func (g *Gate) put(key string, s models.Settings, gen uint64) {
	g.keys.Lock()
	defer g.keys.Unlock()
	if g.keys.gens[key] != gen {
		g.logger.Debug("Settings changed while loading, not caching", logging.F("key", key))
		return
	}
	g.keys.m[key] = struct{}{}
	if g.ttl > 0 {
		g.cache.SetWithTTL(key, s.Clone(), 1, g.ttl)
	} else {
		g.cache.Set(key, s.Clone(), 1)
	}
}

func (g *Gate) invalidate(key string) {
	g.keys.Lock()
	defer g.keys.Unlock()
	g.keys.gens[key]++
	delete(g.keys.m, key)
	g.cache.Del(key)
	// A buffered Set queued before the Del must not resurface afterwards.
	g.cache.Wait()
}

// Save normalizes and persists s, then drops the cached copy.
func (g *Gate) Save(ctx context.Context, s models.Settings) (models.Settings, error) {
	s = s.Clone()
	s.Normalize()
	s.UpdatedAt = g.now()
	if err := g.store.SaveSettings(ctx, &s); err != nil {
		return models.Settings{}, fmt.Errorf("failed to save settings for workspace %s: %w", s.WorkspaceID, err)
	}
	g.invalidate(cacheKey(s.WorkspaceID))
	g.logger.Info("Automation settings updated",
		logging.F(logging.FieldWorkspaceID, s.WorkspaceID),
		logging.F("auto_learning_enabled", s.AutoLearningEnabled),
		logging.F("excluded_beneficiaries", len(s.DisabledBeneficiaries)))
	return s, nil
}

// Update loads the settings of a workspace, applies fn and saves them.
func (g *Gate) Update(ctx context.Context, workspaceID string, fn func(*models.Settings)) (models.Settings, error) {
	s, err := g.Get(ctx, workspaceID)
	if err != nil {
		return models.Settings{}, err
	}
	fn(&s)
	s.WorkspaceID = workspaceID
	return g.Save(ctx, s)
}

// ExcludeBeneficiary stops auto-learning for transactions of beneficiaryID.
func (g *Gate) ExcludeBeneficiary(ctx context.Context, workspaceID, beneficiaryID string) (models.Settings, error) {
	return g.Update(ctx, workspaceID, func(s *models.Settings) {
		s.DisabledBeneficiaries = append(s.DisabledBeneficiaries, beneficiaryID)
	})
}

// IncludeBeneficiary removes beneficiaryID from the exclusion list.
func (g *Gate) IncludeBeneficiary(ctx context.Context, workspaceID, beneficiaryID string) (models.Settings, error) {
	return g.Update(ctx, workspaceID, func(s *models.Settings) {
		kept := s.DisabledBeneficiaries[:0]
		for _, b := range s.DisabledBeneficiaries {
			if b != beneficiaryID {
				kept = append(kept, b)
			}
		}
		s.DisabledBeneficiaries = kept
	})
}

// Allows reports whether learning for field is enabled in the workspace
// and beneficiaryID, when set, is not excluded. A settings lookup failure
// is returned with false.
func (g *Gate) Allows(ctx context.Context, workspaceID string, field models.LearnField, beneficiaryID string) (bool, error) {
	s, err := g.Get(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	if !s.Allows(field) {
		return false, nil
	}
	if beneficiaryID != "" && s.IsBeneficiaryExcluded(beneficiaryID) {
		return false, nil
	}
	return true, nil
}

// Purge drops every cached entry.
func (g *Gate) Purge() {
	g.keys.Lock()
	for key := range g.keys.m {
		g.keys.gens[key]++
		g.cache.Del(key)
	}
	g.keys.m = make(map[string]struct{})
	g.keys.Unlock()
}

// Wait blocks until buffered cache writes are visible.
func (g *Gate) Wait() {
	g.cache.Wait()
}

// Close releases the cache.
func (g *Gate) Close() {
	g.cache.Close()
}
