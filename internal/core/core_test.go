package core

import (
	"context"
	"testing"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/access"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/bruteforce"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
)

func memoryDeps(t *testing.T) Deps {
	t.Helper()
	cat, err := catalog.New([]catalog.Definition{
		{Key: "mining.analysis.read", Resource: "mining_analysis", Action: "read", Scope: "state", Active: true},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return Deps{
		Store:       registry.NewMemory(),
		GuardStore:  bruteforce.NewMemory(),
		AuditSink:   audit.NopSink{},
		Catalog:     cat,
		TokenSecret: "0123456789abcdef0123456789abcdef",
	}
}

func TestNewWiresEverything(t *testing.T) {
	c, err := New(memoryDeps(t))
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	if c.Registry == nil || c.Evaluator == nil || c.Workflows == nil || c.Sessions == nil || c.Guard == nil || c.Recorder == nil {
		t.Fatalf("incomplete core: %+v", c)
	}

	// The assembled components share one store: provisioning through the
	// registry is visible to the evaluator.
	p, _, err := c.Registry.Provision(context.Background(), "officer@mines.gov.in", "kimberlite")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	d, err := c.Evaluator.Evaluate(context.Background(), access.Query{
		PrincipalID: p.ID,
		Resource:    "mining_analysis",
		Action:      "read",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("a fresh principal holds no authority")
	}
}

func TestNewRequiresTokenSecret(t *testing.T) {
	d := memoryDeps(t)
	d.TokenSecret = ""
	if _, err := New(d); err == nil {
		t.Fatal("missing token secret accepted")
	}
}
