// Package core wires the access-control components into the single surface
// consumed by the HTTP layer: evaluation, hierarchy mutation, session
// lifecycle, and brute-force defense.
package core

import (
	"context"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/access"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/bruteforce"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/obs"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/session"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/workflow"
)

// Core aggregates the public components of the access-control service.
type Core struct {
	Registry  *registry.Service
	Evaluator *access.Evaluator
	Workflows *workflow.Service
	Sessions  *session.Manager
	Guard     *bruteforce.Guard
	Recorder  *audit.Recorder
}

// Deps are the external collaborators the core builds on.
type Deps struct {
	Store       registry.Store
	GuardStore  bruteforce.Store
	AuditSink   audit.Sink
	Catalog     *catalog.Catalog
	Notifier    audit.Notifier
	TokenSecret string
	SessionOpts []session.Option
}

// New assembles the core from its dependencies.
func New(d Deps) (*Core, error) {
	recorderOpts := []audit.Option{}
	if d.Notifier != nil {
		recorderOpts = append(recorderOpts, audit.WithNotifier(d.Notifier))
	}
	recorder := audit.NewRecorder(d.AuditSink, recorderOpts...)
	guard := bruteforce.NewGuard(d.GuardStore, recorder)
	sessions, err := session.NewManager(d.Store, guard, recorder, d.TokenSecret, d.SessionOpts...)
	if err != nil {
		return nil, err
	}
	return &Core{
		Registry:  registry.NewService(d.Store),
		Evaluator: access.NewEvaluator(d.Store, d.Catalog, recorder),
		Workflows: workflow.NewService(d.Store, d.Catalog, recorder),
		Sessions:  sessions,
		Guard:     guard,
		Recorder:  recorder,
	}, nil
}

// RunJanitor sweeps the brute-force ledger on the given interval until the
// context is cancelled.
func (c *Core) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Guard.Sweep(ctx); err != nil {
				obs.LogEvent("janitor.sweep_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
