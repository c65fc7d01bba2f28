package orchestrator

import "strings"

// State é o estado da máquina de conexão de uma instância.
type State string

const (
	StateDisconnected State = "disconnected"
	StateQRPending    State = "qr_pending"
	StateConnected    State = "connected"
	// StateReplaced é terminal: a sessão foi assumida por outro dispositivo e
	// reconectar exigiria briga de stream. Requer ação do operador.
	StateReplaced State = "replaced"
	// StateError é uma excursão recuperável a partir de qualquer estado.
	StateError State = "error"
)

type EventType string

const (
	EventQRCode       EventType = "qr_code"
	EventPairSuccess  EventType = "pair_success"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventLoggedOut    EventType = "logged_out"
	EventReplaced     EventType = "replaced"
	EventFailure      EventType = "failure"
)

// Event alimenta a máquina de estados; substitui os handlers de callback por
// um canal único, deixando a máquina testável sem conexão viva.
type Event struct {
	Type   EventType
	QRCode string
	Phone  string
	Code   int
	Reason string
}

// Transition é a função pura de transição. Estados avançam de forma
// monotônica por tentativa de conexão: disconnected → qr_pending → connected,
// com queda para disconnected/error em falha e replaced como terminal.
func Transition(current State, evt Event) State {
	if current == StateReplaced {
		// Terminal: nenhum evento recupera sem intervenção do operador.
		return StateReplaced
	}

	switch evt.Type {
	case EventQRCode:
		return StateQRPending
	case EventPairSuccess, EventConnected:
		return StateConnected
	case EventReplaced:
		return StateReplaced
	case EventLoggedOut:
		return StateDisconnected
	case EventDisconnected:
		return StateDisconnected
	case EventFailure:
		return StateError
	}
	return current
}

// DisconnectClass classifica o motivo de uma desconexão.
type DisconnectClass int

const (
	// ClassTransient agenda reconexão com backoff exponencial limitado.
	ClassTransient DisconnectClass = iota
	// ClassSessionInvalid purga o estado local e reinicia o fluxo de QR do
	// zero, com o contador de backoff zerado.
	ClassSessionInvalid
	// ClassReplaced não reconecta: outro dispositivo assumiu a sessão.
	ClassReplaced
)

// Classify decide a classe de uma desconexão a partir do código e da razão
// reportados pelo gateway de mensagens.
func Classify(code int, reason string) DisconnectClass {
	reason = strings.ToLower(reason)

	if strings.Contains(reason, "replaced") || strings.Contains(reason, "conflict") || code == 440 {
		return ClassReplaced
	}
	if code == 401 || code == 403 ||
		strings.Contains(reason, "logged out") ||
		strings.Contains(reason, "loggedout") ||
		strings.Contains(reason, "unauthorized") ||
		strings.Contains(reason, "bad session") ||
		strings.Contains(reason, "multidevice") {
		return ClassSessionInvalid
	}
	return ClassTransient
}
