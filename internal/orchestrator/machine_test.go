package orchestrator

import "testing"

func TestTransition(t *testing.T) {
	cases := []struct {
		name    string
		current State
		evt     Event
		want    State
	}{
		{"qr inicia pareamento", StateDisconnected, Event{Type: EventQRCode}, StateQRPending},
		{"pareamento conecta", StateQRPending, Event{Type: EventPairSuccess}, StateConnected},
		{"reconexão direta", StateDisconnected, Event{Type: EventConnected}, StateConnected},
		{"queda transitória", StateConnected, Event{Type: EventDisconnected}, StateDisconnected},
		{"logout derruba", StateConnected, Event{Type: EventLoggedOut}, StateDisconnected},
		{"falha vira error", StateConnected, Event{Type: EventFailure}, StateError},
		{"error reconecta", StateError, Event{Type: EventConnected}, StateConnected},
		{"replaced é terminal", StateConnected, Event{Type: EventReplaced}, StateReplaced},
		{"evento desconhecido mantém estado", StateQRPending, Event{Type: EventType("???")}, StateQRPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transition(tc.current, tc.evt); got != tc.want {
				t.Errorf("Transition(%s, %s) = %s, esperado %s", tc.current, tc.evt.Type, got, tc.want)
			}
		})
	}
}

func TestTransitionReplacedAbsorbing(t *testing.T) {
	events := []EventType{EventQRCode, EventPairSuccess, EventConnected, EventDisconnected, EventLoggedOut, EventFailure}
	for _, et := range events {
		if got := Transition(StateReplaced, Event{Type: et}); got != StateReplaced {
			t.Errorf("Transition(replaced, %s) = %s, replaced deve ser absorvente", et, got)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		code   int
		reason string
		want   DisconnectClass
	}{
		{0, "stream replaced", ClassReplaced},
		{440, "", ClassReplaced},
		{0, "Conflict detected", ClassReplaced},
		{401, "", ClassSessionInvalid},
		{403, "", ClassSessionInvalid},
		{0, "logged out from another device", ClassSessionInvalid},
		{0, "LoggedOut", ClassSessionInvalid},
		{0, "unauthorized", ClassSessionInvalid},
		{0, "bad session", ClassSessionInvalid},
		{500, "internal error", ClassTransient},
		{0, "connection reset", ClassTransient},
		{0, "", ClassTransient},
	}

	for _, tc := range cases {
		if got := Classify(tc.code, tc.reason); got != tc.want {
			t.Errorf("Classify(%d, %q) = %v, esperado %v", tc.code, tc.reason, got, tc.want)
		}
	}
}
