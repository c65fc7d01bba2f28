package orchestrator

import (
	"errors"
	"testing"
)

func TestSendRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"texto válido", NewTextMessage("5511999990000", "olá"), nil},
		{"destinatário vazio", NewTextMessage("  ", "olá"), ErrInvalidRecipient},
		{"texto vazio", NewTextMessage("5511999990000", ""), ErrInvalidPayload},
		{"botões válidos", NewButtonsMessage("5511999990000", "Escolha", "", []Button{{ID: "1", Label: "Sim"}}), nil},
		{"botões sem opções", NewButtonsMessage("5511999990000", "Escolha", "", nil), ErrInvalidPayload},
		{"botões sem título", NewButtonsMessage("5511999990000", "", "", []Button{{ID: "1", Label: "Sim"}}), ErrInvalidPayload},
		{"lista válida", NewListMessage("5511999990000", "Menu", "Ver", []ListSection{{Title: "A", Rows: []ListRow{{ID: "1", Title: "x"}}}}), nil},
		{"lista sem seções", NewListMessage("5511999990000", "Menu", "Ver", nil), ErrInvalidPayload},
		{"mídia válida", NewMediaMessage("5511999990000", "aGVsbG8=", "image/png", "a.png", ""), nil},
		{"mídia sem mime", NewMediaMessage("5511999990000", "aGVsbG8=", "", "a.png", ""), ErrInvalidPayload},
		{"kind desconhecido", SendRequest{To: "5511999990000", Kind: "sticker"}, ErrInvalidPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, esperado nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, esperado %v", err, tc.want)
			}
		})
	}
}

func TestResolveJID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999990000", "5511999990000@s.whatsapp.net", false},
		{"+55 (11) 99999-0000", "5511999990000@s.whatsapp.net", false},
		{"5511999990000@s.whatsapp.net", "5511999990000@s.whatsapp.net", false},
		{"123456789-987654@g.us", "123456789-987654@g.us", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tc := range cases {
		jid, err := resolveJID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("resolveJID(%q) deveria falhar", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveJID(%q) erro inesperado: %v", tc.in, err)
			continue
		}
		if jid.String() != tc.want {
			t.Errorf("resolveJID(%q) = %s, esperado %s", tc.in, jid.String(), tc.want)
		}
	}
}
