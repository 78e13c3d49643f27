// Package settings owns the runtime settings document served by the config
// endpoints. The document is schemaless JSON; updates are patches applied by
// recursive deep merge and persisted before they become visible, so
// concurrent writers never observe a half-applied merge.
package settings

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cueprep/cueprep/internal/logger"
	"github.com/cueprep/cueprep/internal/store"
)

// Snapshot is a point-in-time copy of the settings document. Callers own it
// and may mutate it freely.
type Snapshot map[string]any

type Store struct {
	mu      sync.Mutex
	repo    *store.SettingsRepo
	log     *logger.Logger
	current map[string]any
}

// NewStore loads the persisted document. A missing row starts an empty
// document; an unreadable one is logged and replaced on the next update.
func NewStore(repo *store.SettingsRepo, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Default()
	}
	s := &Store{
		repo:    repo,
		log:     log.WithComponent("settings"),
		current: map[string]any{},
	}

	raw, err := repo.Get(store.SettingRuntimeConfig)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if raw != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.log.Warn("Stored settings are not valid JSON, starting empty", "error", err)
		} else {
			s.current = doc
		}
	}
	return s, nil
}

func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot(deepCopy(s.current))
}

// Update merges patch into the document and returns the result. Provided
// keys overwrite at any depth, absent keys are preserved. The in-memory view
// only advances once the row is written, so a failed write leaves the old
// document intact.
func (s *Store) Update(patch map[string]any) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := deepMerge(s.current, patch)

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.repo.Set(store.SettingRuntimeConfig, string(raw)); err != nil {
		return nil, fmt.Errorf("persist settings: %w", err)
	}

	s.current = merged
	s.log.Debug("Settings updated", "keys", len(patch))
	return Snapshot(deepCopy(s.current)), nil
}

// deepMerge returns a new map; neither input is mutated. Two maps at the
// same key merge recursively, anything else (scalars, arrays, nulls, or a
// map replacing a scalar) is replaced wholesale by the patch value.
func deepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		pm, pok := v.(map[string]any)
		bm, bok := out[k].(map[string]any)
		if pok && bok {
			out[k] = deepMerge(bm, pm)
			continue
		}
		out[k] = v
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue descends into both container kinds JSON decodes into; a map
// nested inside an array must not stay shared with the canonical document.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopy(val)
	case []any:
		cp := make([]any, len(val))
		for i, e := range val {
			cp[i] = copyValue(e)
		}
		return cp
	default:
		return v
	}
}
