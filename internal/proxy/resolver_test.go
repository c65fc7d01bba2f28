package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type staticGlobal struct {
	cfg model.BackendConfig
}

func (g *staticGlobal) Get(ctx context.Context) (model.BackendConfig, error) {
	return g.cfg, nil
}

func (g *staticGlobal) Update(ctx context.Context, cfg model.BackendConfig) (model.BackendConfig, error) {
	g.cfg = cfg
	g.cfg.UpdatedAt = time.Now()
	return g.cfg, nil
}

func TestCandidatesOrdering(t *testing.T) {
	r := NewResolver(ResolverOptions{
		Global:      &staticGlobal{cfg: model.BackendConfig{URL: "http://global:3000", Token: "tok-global"}},
		NativeURL:   "http://native:3000",
		NativeToken: "tok-native",
	})

	inst := model.Instance{ID: "inst-1", BackendURL: "http://override:3000", BackendToken: "tok-inst"}
	got := r.Candidates(context.Background(), inst)

	if len(got) != 3 {
		t.Fatalf("esperados 3 candidatos, vieram %d", len(got))
	}
	if got[0].Source != SourceInstance || got[0].URL != "http://override:3000" {
		t.Errorf("1º candidato deveria ser o override da instância: %+v", got[0])
	}
	if got[1].Source != SourceGlobal {
		t.Errorf("2º candidato deveria ser o global: %+v", got[1])
	}
	if got[2].Source != SourceNative {
		t.Errorf("3º candidato deveria ser o nativo: %+v", got[2])
	}
}

func TestCandidatesSkipLocal(t *testing.T) {
	r := NewResolver(ResolverOptions{
		NativeURL:   "http://native:3000",
		NativeToken: "tok",
	})

	inst := model.Instance{ID: "inst-1", BackendURL: "http://localhost:3000", BackendToken: "x"}
	got := r.Candidates(context.Background(), inst)

	if len(got) != 1 || got[0].Source != SourceNative {
		t.Errorf("override local deveria ser descartado, candidatos: %+v", got)
	}
}

func TestCandidatesAllowLocalForDev(t *testing.T) {
	r := NewResolver(ResolverOptions{AllowLocal: true})

	inst := model.Instance{ID: "inst-1", BackendURL: "http://127.0.0.1:3000"}
	got := r.Candidates(context.Background(), inst)

	if len(got) != 1 {
		t.Errorf("com AllowLocal o loopback deveria passar, candidatos: %+v", got)
	}
}

func TestCandidatesDedup(t *testing.T) {
	r := NewResolver(ResolverOptions{
		Global:    &staticGlobal{cfg: model.BackendConfig{URL: "http://same:3000", Token: "a"}},
		NativeURL: "http://same:3000",
	})

	inst := model.Instance{ID: "inst-1", BackendURL: "http://same:3000", BackendToken: "b"}
	got := r.Candidates(context.Background(), inst)

	if len(got) != 1 {
		t.Errorf("URLs repetidas deveriam ser deduplicadas, candidatos: %+v", got)
	}
}

func TestTokenFallbacks(t *testing.T) {
	r := NewResolver(ResolverOptions{
		Global:      &staticGlobal{cfg: model.BackendConfig{Token: "tok-global"}},
		NativeToken: "tok-native",
	})

	got := r.TokenFallbacks(context.Background(), "tok-inst")
	if len(got) != 2 || got[0] != "tok-global" || got[1] != "tok-native" {
		t.Errorf("fallbacks = %v, esperado [tok-global tok-native]", got)
	}

	// O token que acabou de falhar não entra de novo.
	got = r.TokenFallbacks(context.Background(), "tok-global")
	if len(got) != 1 || got[0] != "tok-native" {
		t.Errorf("fallbacks = %v, esperado [tok-native]", got)
	}
}

func TestAlternatePort(t *testing.T) {
	r := NewResolver(ResolverOptions{FallbackPorts: []string{"3000", "3001"}})

	alt, ok := r.AlternatePort("http://backend:3000/base")
	if !ok || alt != "http://backend:3001/base" {
		t.Errorf("AlternatePort(3000) = %q ok=%v", alt, ok)
	}

	alt, ok = r.AlternatePort("http://backend:3001")
	if !ok || alt != "http://backend:3000" {
		t.Errorf("AlternatePort(3001) = %q ok=%v", alt, ok)
	}

	if _, ok := r.AlternatePort("http://backend:9999"); ok {
		t.Error("porta fora do par não deveria ter alternativa")
	}
	if _, ok := r.AlternatePort("http://backend"); ok {
		t.Error("URL sem porta não deveria ter alternativa")
	}
}
