package probe

import (
	"context"
	"testing"

	"github.com/keithlinneman/toptalkers/internal/xerrors"
)

func TestStatic(t *testing.T) {
	if err := Static(true, "").Check(context.Background()); err != nil {
		t.Errorf("Static(true) = %v, want nil", err)
	}

	err := Static(false, "not ready").Check(context.Background())
	if err == nil || err.Error() != "not ready" {
		t.Errorf("Static(false, not ready) = %v", err)
	}

	if err := Static(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Errorf("Static(false, \"\") = %v, want unhealthy", err)
	}
}

func TestMulti_AllPass(t *testing.T) {
	p := Multi(Static(true, ""), nil, Static(true, ""))
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("Multi all-pass = %v, want nil", err)
	}
}

func TestMulti_FirstFailureWins(t *testing.T) {
	p := Multi(
		Static(true, ""),
		Func(func(context.Context) error { return xerrors.New("first") }),
		Func(func(context.Context) error { return xerrors.New("second") }),
	)
	err := p.Check(context.Background())
	if err == nil || err.Error() != "first" {
		t.Errorf("Multi = %v, want first", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("open gate = %v, want nil", err)
	}

	g.Set("draining")
	if err := p.Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("closed gate = %v, want draining", err)
	}

	g.Clear()
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("cleared gate = %v, want nil", err)
	}
}

func TestShutdownGate_DefaultReason(t *testing.T) {
	var g ShutdownGate
	g.Set("")
	err := g.Probe().Check(context.Background())
	if err == nil || err.Error() != "draining" {
		t.Fatalf("gate with empty reason = %v, want draining", err)
	}
}
