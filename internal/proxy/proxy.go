package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/gateway"
	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// Result é o contrato de saída do proxy: nenhuma exceção de camada inferior
// escapa, todo caminho termina aqui. Status 0 sinaliza backend fora do ar.
type Result struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Data   any    `json:"data,omitempty"`
	Err    string `json:"error,omitempty"`
}

// allowedPaths é a lista fechada de operações proxiáveis. Isto é uma
// superfície estreita deliberada, não um proxy HTTP genérico.
var allowedPaths = map[string]bool{
	"/health":       true,
	"/status":       true,
	"/connect":      true,
	"/disconnect":   true,
	"/qrcode":       true,
	"/send":         true,
	"/send-buttons": true,
	"/send-list":    true,
	"/send-media":   true,
}

// Alerter é a fatia do gerenciador de alertas que o proxy usa.
type Alerter interface {
	Raise(ctx context.Context, instanceID, alertType string, severity model.AlertSeverity, title, message string, metadata map[string]any)
}

type Proxy struct {
	instances storage.InstanceRepository
	events    storage.EventLogRepository
	resolver  *Resolver
	client    *gateway.Client
	alerts    Alerter
	timeout   time.Duration
	log       *zap.Logger
}

func New(instances storage.InstanceRepository, events storage.EventLogRepository, resolver *Resolver, client *gateway.Client, alerts Alerter, log *zap.Logger) *Proxy {
	return &Proxy{
		instances: instances,
		events:    events,
		resolver:  resolver,
		client:    client,
		alerts:    alerts,
		timeout:   gateway.DefaultTimeout,
		log:       log,
	}
}

// Invoke executa uma operação lógica contra o gateway da instância, tentando
// candidatos de endpoint e token em ordem estrita até um resultado conclusivo.
func (p *Proxy) Invoke(ctx context.Context, callerID string, isAdmin bool, instanceID, path, method string, body any) Result {
	path = normalizePath(path, instanceID)
	if !allowedPaths[path] {
		return Result{Status: http.StatusBadRequest, Err: "operação não permitida pelo proxy"}
	}

	inst, err := p.instances.GetByID(ctx, instanceID)
	if err != nil {
		return Result{Status: http.StatusNotFound, Err: "instância não encontrada"}
	}

	// Verificação de posse antes de qualquer atividade de rede.
	if !isAdmin && inst.OwnerUserID != callerID {
		return Result{Status: http.StatusForbidden, Err: "acesso negado à instância"}
	}

	candidates := p.resolver.Candidates(ctx, inst)
	if len(candidates) == 0 {
		p.emit(ctx, inst.ID, "proxy_error", path, method, 0, 0, "nenhum backend configurado")
		return Result{Status: 0, Err: "nenhum backend configurado para a instância"}
	}

	// Candidato de porta alternativa entra apenas depois dos primários.
	if altURL, ok := p.resolver.AlternatePort(candidates[0].URL); ok && !hasURL(candidates, altURL) {
		candidates = append(candidates, Candidate{URL: altURL, Token: candidates[0].Token, Source: SourceAltPort})
	}

	start := time.Now()
	sendClass := isSendPath(path)
	routes := p.routesFor(path, instanceID, sendClass)

	var (
		sawAuthFailure  bool
		sawMissingRoute bool
		lastAuthStatus  int
	)

	for _, cand := range candidates {
		tokens := append([]string{cand.Token}, p.resolver.TokenFallbacks(ctx, cand.Token)...)

	tokenLoop:
		for ti, token := range tokens {
			for ri, route := range routes {
				callCtx, cancel := context.WithTimeout(ctx, p.timeout)
				res, err := p.client.Do(callCtx, cand.URL, token, method, route, body)
				cancel()

				if err != nil {
					// Falha de rede ou timeout: suave, segue para o próximo
					// candidato de base URL.
					p.log.Warn("proxy: backend inacessível, tentando próximo candidato",
						zap.String("instance_id", inst.ID),
						zap.String("url", cand.URL),
						zap.String("source", string(cand.Source)),
						zap.Error(err),
					)
					break tokenLoop
				}

				if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
					sawAuthFailure = true
					lastAuthStatus = res.StatusCode
					if ti < len(tokens)-1 {
						// Avança para o próximo token na MESMA base URL.
						continue tokenLoop
					}
					break tokenLoop
				}

				if res.StatusCode == http.StatusNotFound && looksLikeMissingRoute(res) {
					sawMissingRoute = true
					if ri < len(routes)-1 {
						continue
					}
					break tokenLoop
				}

				// Resposta conclusiva: sucesso ou erro de aplicação genuíno.
				return p.conclude(ctx, inst, cand, token, path, method, sendClass, res, time.Since(start))
			}
		}
	}

	duration := time.Since(start)

	if sawAuthFailure {
		// Distinto de "backend fora do ar": o operador precisa renovar o token.
		p.emit(ctx, inst.ID, "proxy_error", path, method, lastAuthStatus, duration, "todas as credenciais recusadas")
		if p.alerts != nil {
			p.alerts.Raise(ctx, inst.ID, "backend_unauthorized", model.SeverityError,
				"Backend recusou todas as credenciais",
				"Todos os tokens candidatos falharam com 401/403. Renove o token do backend.",
				map[string]any{"path": path})
		}
		return Result{Status: lastAuthStatus, Err: "backend recusou todas as credenciais"}
	}

	if sawMissingRoute {
		p.emit(ctx, inst.ID, "proxy_error", path, method, http.StatusNotFound, duration, "rota inexistente no backend")
		return Result{Status: http.StatusNotFound, Err: "rota não existe no backend (versão incompatível?)"}
	}

	p.emit(ctx, inst.ID, "proxy_error", path, method, 0, duration, "backend não está respondendo")
	if p.alerts != nil {
		p.alerts.Raise(ctx, inst.ID, "backend_unreachable", model.SeverityError,
			"Backend não está respondendo",
			fmt.Sprintf("Nenhum candidato de backend respondeu para %s.", path),
			map[string]any{"path": path, "candidatos": len(candidates)})
	}
	return Result{Status: 0, Err: "backend não está respondendo"}
}

// conclude avalia um resultado conclusivo, persiste autocorreção de
// configuração quando um candidato não-primário venceu e emite o evento final.
func (p *Proxy) conclude(ctx context.Context, inst model.Instance, cand Candidate, token, path, method string, sendClass bool, res *gateway.Result, duration time.Duration) Result {
	ok := res.StatusCode >= 200 && res.StatusCode < 300

	// Para envios, HTTP 200 sozinho não basta: o corpo não pode trazer erro
	// nem success:false — evita confirmação falso-positiva de entrega.
	// A regra é deliberadamente restrita a envios; /status e /qrcode
	// retornam 200 com campos informativos que não são falhas.
	if ok && sendClass {
		if res.SuccessFalse() || res.ErrorField() != "" {
			ok = false
		}
	}

	if ok && (cand.Source != SourceInstance || token != cand.Token) {
		p.persistWorkingBackend(ctx, inst, cand, token, path)
	}

	var data any
	if res.IsJSON() {
		data = res.Body
	} else {
		data = res.Raw
	}

	eventType := terminalEventType(path, ok)
	errMsg := ""
	if !ok {
		errMsg = res.ErrorField()
		if errMsg == "" {
			errMsg = fmt.Sprintf("backend respondeu %d", res.StatusCode)
		}
	}
	p.emit(ctx, inst.ID, eventType, path, method, res.StatusCode, duration, errMsg)

	return Result{OK: ok, Status: res.StatusCode, Data: data, Err: errMsg}
}

// persistWorkingBackend grava na instância a configuração que acabou de ser
// comprovada em uma troca bem-sucedida (autocorreção, last-writer-wins).
func (p *Proxy) persistWorkingBackend(ctx context.Context, inst model.Instance, cand Candidate, token, path string) {
	if err := p.instances.UpdateBackend(ctx, inst.ID, cand.URL, token); err != nil {
		p.log.Warn("proxy: erro ao persistir backend autocorrigido",
			zap.String("instance_id", inst.ID),
			zap.Error(err),
		)
		return
	}

	p.log.Info("proxy: configuração de backend autocorrigida",
		zap.String("instance_id", inst.ID),
		zap.String("url", cand.URL),
		zap.String("source", string(cand.Source)),
	)
	p.emit(ctx, inst.ID, "backend_autocorrigido", path, "", 0, 0,
		fmt.Sprintf("backend ajustado para %s (origem %s)", cand.URL, cand.Source))
}

func (p *Proxy) emit(ctx context.Context, instanceID, eventType, path, method string, status int, duration time.Duration, errMsg string) {
	payload, _ := json.Marshal(map[string]any{
		"path":       path,
		"method":     method,
		"status":     status,
		"durationMs": duration.Milliseconds(),
		"error":      errMsg,
	})

	if p.events != nil {
		_, err := p.events.Create(ctx, model.EventLog{
			ID:         uuid.NewString(),
			InstanceID: instanceID,
			Type:       eventType,
			Payload:    string(payload),
		})
		if err != nil {
			p.log.Warn("proxy: erro ao gravar evento", zap.Error(err))
		}
	}

	p.log.Debug("proxy: evento emitido",
		zap.String("instance_id", instanceID),
		zap.String("type", eventType),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
	)
}

func terminalEventType(path string, ok bool) string {
	switch {
	case isSendPath(path) && ok:
		return "message_sent"
	case isSendPath(path):
		return "message_error"
	case path == "/qrcode" && ok:
		return "qr_generated"
	case path == "/connect" && ok:
		return "connected"
	case ok:
		return "proxy_ok"
	default:
		return "proxy_error"
	}
}

// routesFor devolve os nomes de rota candidatos. Operações de envio têm mais
// de um nome possível conforme a versão do gateway; as demais têm rota única.
func (p *Proxy) routesFor(path, instanceID string, sendClass bool) []string {
	if !sendClass {
		return []string{path}
	}
	return []string{path, "/api/instance/" + instanceID + path}
}

func isSendPath(path string) bool {
	return strings.HasPrefix(path, "/send")
}

// normalizePath reduz espelhos instance-scoped à rota canônica.
func normalizePath(path, instanceID string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	prefix := "/api/instance/" + instanceID
	if strings.HasPrefix(path, prefix) {
		path = strings.TrimPrefix(path, prefix)
	}
	return path
}

func looksLikeMissingRoute(res *gateway.Result) bool {
	if strings.Contains(res.Raw, "Cannot GET") || strings.Contains(res.Raw, "Cannot POST") {
		return true
	}
	errField := strings.ToLower(res.ErrorField())
	return strings.Contains(errField, "not found") || strings.Contains(errField, "rota")
}
