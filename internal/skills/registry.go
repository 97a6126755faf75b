package skills

import (
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"sermonflow/internal/logging"
	"sermonflow/internal/store"
)

// Registry serves skill lookups from an atomically swappable catalog.
type Registry struct {
	current atomic.Pointer[table]
	logger  *slog.Logger
}

type table struct {
	skills    map[string]store.Skill
	taskTypes map[string][]string
}

// NewRegistry returns a registry seeded with the built-in catalog.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{logger: logging.NewComponentLogger(logger, "skills")}
	catalog, err := DefaultCatalog().normalized()
	if err != nil {
		r.logger.Error("built-in skill catalog invalid", logging.Error(err))
		catalog = DefaultCatalog()
	}
	r.Replace(catalog)
	return r
}

// Replace swaps in a normalized catalog.
func (r *Registry) Replace(catalog Catalog) {
	t := &table{
		skills:    make(map[string]store.Skill, len(catalog.Skills)),
		taskTypes: make(map[string][]string, len(catalog.TaskTypes)),
	}
	for _, skill := range catalog.Skills {
		t.skills[skill.Name] = skill
	}
	for taskType, names := range catalog.TaskTypes {
		t.taskTypes[taskType] = slices.Clone(names)
	}
	r.current.Store(t)
}

// LoadCatalog replaces the table from a YAML file. On error the current table
// is kept.
func (r *Registry) LoadCatalog(path string) error {
	catalog, err := LoadCatalogFile(path)
	if err != nil {
		return err
	}
	r.Replace(catalog)
	r.logger.Info("skill catalog loaded",
		logging.String("path", path),
		logging.Int("skills", len(catalog.Skills)),
		logging.Int("task_types", len(catalog.TaskTypes)),
	)
	return nil
}

// SkillsFor returns the sorted skill names satisfying taskType. Unknown task
// types yield an empty, non-nil slice.
func (r *Registry) SkillsFor(taskType string) []string {
	names, ok := r.current.Load().taskTypes[NormalizeName(taskType)]
	if !ok {
		return []string{}
	}
	return slices.Clone(names)
}

// Known reports whether the catalog defines taskType.
func (r *Registry) Known(taskType string) bool {
	_, ok := r.current.Load().taskTypes[NormalizeName(taskType)]
	return ok
}

// Skill returns the catalog entry for name.
func (r *Registry) Skill(name string) (store.Skill, bool) {
	skill, ok := r.current.Load().skills[NormalizeName(name)]
	return skill, ok
}

// TaskTypes returns every task type in the catalog, sorted.
func (r *Registry) TaskTypes() []string {
	return slices.Sorted(maps.Keys(r.current.Load().taskTypes))
}

// Skills returns every declared skill, sorted by name.
func (r *Registry) Skills() []store.Skill {
	t := r.current.Load()
	out := make([]store.Skill, 0, len(t.skills))
	for _, name := range slices.Sorted(maps.Keys(t.skills)) {
		out = append(out, t.skills[name])
	}
	return out
}
