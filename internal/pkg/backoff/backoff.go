package backoff

import "time"

// DefaultDelays é a tabela de espera compartilhada entre o proxy, a varredura
// da fila e a reconexão do orquestrador. Cresce até o teto e estabiliza.
var DefaultDelays = []time.Duration{
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// Policy parametriza retry por ponto de uso: tabela de atrasos, limite de
// tentativas e predicado de erro retryável.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
	Retryable   func(status int, err error) bool
}

func Default() Policy {
	return Policy{
		Delays:      DefaultDelays,
		MaxAttempts: len(DefaultDelays),
		Retryable:   RetryableStatus,
	}
}

// Delay devolve a espera para a tentativa informada (1-indexada).
// Tentativas além da tabela usam o último valor (plateau, nunca cresce sem limite).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Delays) {
		attempt = len(p.Delays)
	}
	return p.Delays[attempt-1]
}

// Next calcula o horário da próxima tentativa a partir de agora.
func (p Policy) Next(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}

// Exhausted indica se o item já gastou todas as tentativas permitidas.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// RetryableStatus classifica o resultado de uma chamada proxy: status 0
// (backend não respondeu) e 5xx são retryáveis; erros de rede idem.
func RetryableStatus(status int, err error) bool {
	if err != nil {
		return true
	}
	if status == 0 {
		return true
	}
	return status >= 500
}
