// Package loader builds a validated Migration Plan for the Migration
// Controller.
//
// A source directory layout like `root/<model>/NNN-<slug>.<ext>` made sense
// for a host runtime (Node.js) that can `require()` an arbitrary file at
// startup and get back a callable migrate function. Go has no equivalent:
// code cannot be loaded from a file discovered at runtime without
// shelling out to the toolchain, which this library has no business doing.
//
// Instead, migration modules are registered at compile time — the same
// pattern database/sql drivers and goose-style migration tools use — via
// Registry.Register, typically from an init() function in a file colocated
// with the on-disk stub it documents. The on-disk directory tree still
// exists and is still validated byte-for-byte against §4.5's contract
// (filename pattern, ascending NNN, no gaps starting at 1, data_version
// index requirement); it simply validates what's registered rather than
// loading code from it.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/bucketsconfig"
)

// Record is a single record passed to a Module's Migrate function.
type Record struct {
	Key   string
	Value map[string]any
}

// MigrateContext carries request-scoped dependencies into a migration
// function; currently just a logger slot, left as an interface so callers
// don't need to import zap to implement Migrate.
type MigrateContext struct {
	Log func(msg string, fields ...any)
}

// MigrateFunc transforms a record to its target version. Returning nil
// means "already migrated, skip": the controller writes nothing for that
// record (see DESIGN.md open question 2). The loader only checks that a
// function is registered; it never calls it.
type MigrateFunc func(rec Record, mctx MigrateContext) *Record

// Module is one registered migration step for a model.
type Module struct {
	Version int
	Slug    string
	Migrate MigrateFunc
}

// Registry accumulates compiled-in migration modules, keyed by model name,
// before they are validated against an on-disk tree and a bucket
// configuration.
type Registry struct {
	modules map[string][]Module
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string][]Module)}
}

// Register adds a migration module for a model. Call this from an init()
// function or an explicit wiring step before LoadPlan; registration order
// does not matter, LoadPlan sorts by Version.
func (r *Registry) Register(model string, m Module) {
	r.modules[model] = append(r.modules[model], m)
}

// Plan is the validated, ordered migration sequence per model, ready for
// the Migration Controller to consume.
type Plan struct {
	models map[string][]Module
}

// Models returns every model name with a non-empty migration sequence, in
// sorted order.
func (p *Plan) Models() []string {
	names := make([]string, 0, len(p.models))
	for name, mods := range p.models {
		if len(mods) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Modules returns the ordered migration sequence for a model.
func (p *Plan) Modules(model string) []Module {
	return p.models[model]
}

// IsEmpty reports whether no model has any configured migrations, in which
// case the data migration phase has nothing to do and the Orchestrator
// leaves it in NOT_STARTED.
func (p *Plan) IsEmpty() bool {
	for _, mods := range p.models {
		if len(mods) > 0 {
			return false
		}
	}
	return true
}

var filenamePattern = regexp.MustCompile(`^(\d+)-([A-Za-z0-9_-]+)\.[A-Za-z0-9]+$`)

// LoadPlan validates the registry's modules against the on-disk directory
// tree rooted at dir and against cfg, and returns the resulting Plan.
//
// Validation order follows §4.5's supplement: filenames and version
// sequencing are checked before the registry is cross-referenced against
// the bucket configuration, so a directory typo surfaces as a filename
// error rather than a confusing "unknown model" error.
func LoadPlan(dir string, registry *Registry, cfg *bucketsconfig.Config) (*Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migration root %q: %w", dir, err)
	}

	plan := &Plan{models: make(map[string][]Module)}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		model := entry.Name()
		modelDir := filepath.Join(dir, model)

		files, err := os.ReadDir(modelDir)
		if err != nil {
			return nil, fmt.Errorf("reading model directory %q: %w", modelDir, err)
		}

		onDisk, err := validateFilenames(model, files)
		if err != nil {
			return nil, err
		}
		if len(onDisk) == 0 {
			plan.models[model] = nil
			continue
		}

		registered := append([]Module(nil), registry.modules[model]...)
		sort.Slice(registered, func(i, j int) bool { return registered[i].Version < registered[j].Version })

		if err := validateSequence(model, onDisk, registered); err != nil {
			return nil, err
		}

		if err := cfg.RequireDataVersionIndex(model); err != nil {
			return nil, err
		}

		for _, m := range registered {
			if m.Migrate == nil {
				return nil, bucketserr.Newf(bucketserr.KindNotFunction,
					"model %q version %d has no migrate function registered", model, m.Version)
			}
		}

		plan.models[model] = registered
	}

	return plan, nil
}

type onDiskFile struct {
	version int
	slug    string
}

func validateFilenames(model string, files []os.DirEntry) ([]onDiskFile, error) {
	names := make([]string, 0, len(files))
	parsed := make([]onDiskFile, 0, len(files))

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(f.Name())
		if m == nil {
			names = append(names, f.Name())
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			names = append(names, f.Name())
			continue
		}
		parsed = append(parsed, onDiskFile{version: version, slug: m[2]})
	}

	if len(names) > 0 {
		return nil, bucketserr.Newf(bucketserr.KindInvalidDataMigrationFileNames,
			"model %q: filenames do not match NNN-slug.ext: %v", model, names)
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].version < parsed[j].version })
	return parsed, nil
}

func validateSequence(model string, onDisk []onDiskFile, registered []Module) error {
	expected := 1
	for _, f := range onDisk {
		if f.version != expected {
			return bucketserr.Newf(bucketserr.KindInvalidDataMigrationFileNames,
				"model %q: version sequence gap or out-of-order at %d, expected %d", model, f.version, expected)
		}
		expected++
	}

	if len(registered) != len(onDisk) {
		return bucketserr.Newf(bucketserr.KindInvalidMigrationModule,
			"model %q: %d migration file(s) on disk but %d registered", model, len(onDisk), len(registered))
	}
	for i, m := range registered {
		if m.Version != onDisk[i].version {
			return bucketserr.Newf(bucketserr.KindInvalidMigrationModule,
				"model %q: registered module version %d does not match on-disk file %d", model, m.Version, onDisk[i].version)
		}
	}
	return nil
}
