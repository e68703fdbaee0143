// Package module provides the importer module implementation
package module

import (
	"time"

	"msgvault/internal/modkit"
	"msgvault/internal/modkit/repokit"

	"msgvault/internal/services/importer/domain"
	"msgvault/internal/services/importer/repo"
	"msgvault/internal/services/importer/service"
	"msgvault/internal/services/importer/target"
)

// Ports defines the importer module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the importer module
type Module struct {
	deps  modkit.Deps
	ports Ports
	tgt   *target.Mongo
}

// New constructs the importer module
// It wires up the source reader, the hub reader, and the mongo target
// using config from deps.Cfg; the range rule comes in from the caller
func New(deps modkit.Deps, rule domain.RangeRule, dryRun bool) *Module {
	opts := FromConfig(deps.Cfg)

	// DB binders (no deps passed into repo)
	sourceBinder := repo.NewPG()
	hubBinder := repo.NewHubPG()

	var tgt *target.Mongo
	var ts domain.TargetStore
	if deps.Mongo != nil {
		tgt = target.NewMongo(deps.Mongo)
		ts = tgt
	}

	svc := service.New(
		repokit.TxRunner(deps.PG), sourceBinder, hubBinder, ts,
		service.Config{
			TenantID:      opts.TenantID,
			BatchSize:     opts.BatchSize,
			Workers:       opts.Workers,
			DiscoverLimit: opts.DiscoverLimit,
			Rule:          rule,
			DryRun:        dryRun,
			Clock:         time.Now,
		},
	)

	m := &Module{deps: deps, tgt: tgt}
	m.ports = Ports{Runner: svc}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "importer" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Target exposes the mongo target for index bootstrap; nil when no store
// is attached (dry-run)
func (m *Module) Target() *target.Mongo { return m.tgt }
