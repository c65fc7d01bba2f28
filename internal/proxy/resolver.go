package proxy

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// CandidateSource identifica de onde veio uma configuração de backend.
type CandidateSource string

const (
	SourceInstance CandidateSource = "instance"
	SourceGlobal   CandidateSource = "global"
	SourceNative   CandidateSource = "native"
	SourceAltPort  CandidateSource = "alt_port"
)

// Candidate é um par (base URL, token) a ser tentado pelo proxy.
type Candidate struct {
	URL    string
	Token  string
	Source CandidateSource
}

// Resolver monta a lista ordenada de candidatos de backend para uma instância:
// override da instância, configuração global do tenant e o padrão nativo.
// Endereços de loopback são descartados antes de qualquer chamada de rede —
// backend local não é suportado.
type Resolver struct {
	global        storage.BackendConfigRepository
	nativeURL     string
	nativeToken   string
	fallbackPorts []string
	allowLocal    bool
	log           *zap.Logger
}

type ResolverOptions struct {
	Global        storage.BackendConfigRepository
	NativeURL     string
	NativeToken   string
	FallbackPorts []string
	// AllowLocal libera endereços de loopback. Apenas desenvolvimento e testes.
	AllowLocal bool
	Logger     *zap.Logger
}

func NewResolver(opts ResolverOptions) *Resolver {
	ports := opts.FallbackPorts
	if len(ports) == 0 {
		// Convenção de deploy com gateways pareados nas portas 3000/3001.
		ports = []string{"3000", "3001"}
	}
	return &Resolver{
		global:        opts.Global,
		nativeURL:     opts.NativeURL,
		nativeToken:   opts.NativeToken,
		fallbackPorts: ports,
		allowLocal:    opts.AllowLocal,
		log:           opts.Logger,
	}
}

// Candidates devolve os candidatos primários em ordem de preferência.
// O override da instância, quando presente e válido, sempre vence.
func (r *Resolver) Candidates(ctx context.Context, inst model.Instance) []Candidate {
	var out []Candidate

	if inst.BackendURL != "" && r.usable(inst.BackendURL) {
		out = append(out, Candidate{URL: inst.BackendURL, Token: inst.BackendToken, Source: SourceInstance})
	} else if inst.BackendURL != "" && r.log != nil {
		r.log.Warn("resolver: backend da instância aponta para endereço local, ignorando",
			zap.String("instance_id", inst.ID),
			zap.String("url", inst.BackendURL),
		)
	}

	if r.global != nil {
		if cfg, err := r.global.Get(ctx); err == nil && cfg.URL != "" && r.usable(cfg.URL) {
			if !hasURL(out, cfg.URL) {
				out = append(out, Candidate{URL: cfg.URL, Token: cfg.Token, Source: SourceGlobal})
			}
		}
	}

	if r.nativeURL != "" && r.usable(r.nativeURL) && !hasURL(out, r.nativeURL) {
		out = append(out, Candidate{URL: r.nativeURL, Token: r.nativeToken, Source: SourceNative})
	}

	return out
}

// TokenFallbacks devolve, em ordem, os tokens alternativos a tentar na mesma
// base URL após um 401/403: o token mestre global (se diferente do que acabou
// de falhar) e o token nativo.
func (r *Resolver) TokenFallbacks(ctx context.Context, tried string) []string {
	var out []string

	if r.global != nil {
		if cfg, err := r.global.Get(ctx); err == nil && cfg.Token != "" && cfg.Token != tried {
			out = append(out, cfg.Token)
		}
	}

	if r.nativeToken != "" && r.nativeToken != tried && !hasToken(out, r.nativeToken) {
		out = append(out, r.nativeToken)
	}

	return out
}

// AlternatePort deriva uma base URL alternativa quando a porta resolvida faz
// parte da lista de portas pareadas. Tentada somente depois que os candidatos
// primários se esgotam sem sucesso conclusivo.
func (r *Resolver) AlternatePort(baseURL string) (string, bool) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}
	port := u.Port()
	if port == "" {
		return "", false
	}

	for i, p := range r.fallbackPorts {
		if p != port {
			continue
		}
		// Troca pela porta vizinha no par (a outra do conjunto configurado).
		other := r.fallbackPorts[(i+1)%len(r.fallbackPorts)]
		if other == port {
			return "", false
		}
		u.Host = u.Hostname() + ":" + other
		return u.String(), true
	}

	return "", false
}

func (r *Resolver) usable(rawURL string) bool {
	if r.allowLocal {
		return true
	}
	return !isLocalURL(rawURL)
}

func isLocalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}

func hasURL(list []Candidate, url string) bool {
	for _, c := range list {
		if c.URL == url {
			return true
		}
	}
	return false
}

func hasToken(list []string, token string) bool {
	for _, t := range list {
		if t == token {
			return true
		}
	}
	return false
}
