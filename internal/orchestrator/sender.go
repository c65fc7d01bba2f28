package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var (
	ErrInvalidRecipient = errors.New("orchestrator: destinatário inválido")
	ErrInvalidPayload   = errors.New("orchestrator: payload de mensagem inválido")
)

// MessageKind discrimina a união de SendRequest.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindButtons MessageKind = "buttons"
	KindList    MessageKind = "list"
	KindMedia   MessageKind = "media"
)

type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// SendRequest é uma união etiquetada: exatamente os campos da variante
// indicada por Kind são considerados. Use os construtores para montar.
type SendRequest struct {
	To   string      `json:"to"`
	Kind MessageKind `json:"kind"`

	Text string `json:"text,omitempty"`

	Title   string   `json:"title,omitempty"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`

	ButtonLabel string        `json:"buttonLabel,omitempty"`
	Sections    []ListSection `json:"sections,omitempty"`

	MediaBase64 string `json:"mediaBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

func NewTextMessage(to, text string) SendRequest {
	return SendRequest{To: to, Kind: KindText, Text: text}
}

func NewButtonsMessage(to, title, footer string, buttons []Button) SendRequest {
	return SendRequest{To: to, Kind: KindButtons, Title: title, Footer: footer, Buttons: buttons}
}

func NewListMessage(to, title, buttonLabel string, sections []ListSection) SendRequest {
	return SendRequest{To: to, Kind: KindList, Title: title, ButtonLabel: buttonLabel, Sections: sections}
}

func NewMediaMessage(to, mediaBase64, mimeType, fileName, caption string) SendRequest {
	return SendRequest{To: to, Kind: KindMedia, MediaBase64: mediaBase64, MimeType: mimeType, FileName: fileName, Caption: caption}
}

// Validate garante os campos obrigatórios da variante.
func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" {
		return ErrInvalidRecipient
	}
	switch r.Kind {
	case KindText:
		if r.Text == "" {
			return ErrInvalidPayload
		}
	case KindButtons:
		if r.Title == "" || len(r.Buttons) == 0 {
			return ErrInvalidPayload
		}
	case KindList:
		if r.Title == "" || len(r.Sections) == 0 {
			return ErrInvalidPayload
		}
	case KindMedia:
		if r.MediaBase64 == "" || r.MimeType == "" {
			return ErrInvalidPayload
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidPayload, r.Kind)
	}
	return nil
}

// Send envia a mensagem pela sessão corrente. Recusa com ErrNotConnected
// fora do estado conectado e com ErrStabilizing dentro da janela de
// estabilização. Retorna o ID atribuído pelo servidor.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	o.mu.Lock()
	state := o.state
	client := o.client
	o.mu.Unlock()

	if state != StateConnected || client == nil || !client.IsLoggedIn() {
		return "", ErrNotConnected
	}
	if !o.ReadyToSend() {
		return "", ErrStabilizing
	}

	toJID, err := resolveJID(req.To)
	if err != nil {
		return "", err
	}

	waMessage, err := o.buildMessage(ctx, client, req)
	if err != nil {
		return "", err
	}

	resp, err := client.SendMessage(ctx, toJID, waMessage)
	if err != nil {
		o.log.Warn("falha no envio da mensagem",
			zap.String("to", toJID.String()),
			zap.String("kind", string(req.Kind)),
			zap.Error(err),
		)
		return "", fmt.Errorf("orchestrator: enviar mensagem: %w", err)
	}

	o.sent.Add(1)
	o.log.Info("mensagem enviada com sucesso",
		zap.String("to", toJID.String()),
		zap.String("kind", string(req.Kind)),
		zap.String("server_id", resp.ID),
	)
	return resp.ID, nil
}

func (o *Orchestrator) buildMessage(ctx context.Context, client *whatsmeow.Client, req SendRequest) (*waE2E.Message, error) {
	switch req.Kind {
	case KindText:
		return &waE2E.Message{Conversation: proto.String(req.Text)}, nil

	case KindButtons:
		buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(req.Buttons))
		for _, b := range req.Buttons {
			buttons = append(buttons, &waE2E.ButtonsMessage_Button{
				ButtonID: proto.String(b.ID),
				ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{
					DisplayText: proto.String(b.Label),
				},
				Type: waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
			})
		}
		msg := &waE2E.ButtonsMessage{
			ContentText: proto.String(req.Title),
			Buttons:     buttons,
			HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
		}
		if req.Footer != "" {
			msg.FooterText = proto.String(req.Footer)
		}
		return &waE2E.Message{ButtonsMessage: msg}, nil

	case KindList:
		sections := make([]*waE2E.ListMessage_Section, 0, len(req.Sections))
		for _, s := range req.Sections {
			rows := make([]*waE2E.ListMessage_Row, 0, len(s.Rows))
			for _, r := range s.Rows {
				row := &waE2E.ListMessage_Row{
					RowID: proto.String(r.ID),
					Title: proto.String(r.Title),
				}
				if r.Description != "" {
					row.Description = proto.String(r.Description)
				}
				rows = append(rows, row)
			}
			sections = append(sections, &waE2E.ListMessage_Section{
				Title: proto.String(s.Title),
				Rows:  rows,
			})
		}
		buttonLabel := req.ButtonLabel
		if buttonLabel == "" {
			buttonLabel = "Ver opções"
		}
		msg := &waE2E.ListMessage{
			Title:      proto.String(req.Title),
			ButtonText: proto.String(buttonLabel),
			ListType:   waE2E.ListMessage_SINGLE_SELECT.Enum(),
			Sections:   sections,
		}
		if req.Footer != "" {
			msg.FooterText = proto.String(req.Footer)
		}
		return &waE2E.Message{ListMessage: msg}, nil

	case KindMedia:
		data, err := base64.StdEncoding.DecodeString(req.MediaBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: base64 inválido", ErrInvalidPayload)
		}
		return o.buildMediaMessage(ctx, client, req, data)
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidPayload, req.Kind)
}

func (o *Orchestrator) buildMediaMessage(ctx context.Context, client *whatsmeow.Client, req SendRequest, data []byte) (*waE2E.Message, error) {
	switch {
	case strings.HasPrefix(req.MimeType, "image/"):
		uploadResp, err := client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("erro ao fazer upload da mídia: %w", err)
		}
		imageMsg := &waE2E.ImageMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(req.MimeType),
		}
		if req.Caption != "" {
			imageMsg.Caption = proto.String(req.Caption)
		}
		return &waE2E.Message{ImageMessage: imageMsg}, nil

	case strings.HasPrefix(req.MimeType, "video/"):
		uploadResp, err := client.Upload(ctx, data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("erro ao fazer upload da mídia: %w", err)
		}
		videoMsg := &waE2E.VideoMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(req.MimeType),
		}
		if req.Caption != "" {
			videoMsg.Caption = proto.String(req.Caption)
		}
		return &waE2E.Message{VideoMessage: videoMsg}, nil

	case strings.HasPrefix(req.MimeType, "audio/"):
		uploadResp, err := client.Upload(ctx, data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, fmt.Errorf("erro ao fazer upload do áudio: %w", err)
		}
		audioMsg := &waE2E.AudioMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(req.MimeType),
		}
		return &waE2E.Message{AudioMessage: audioMsg}, nil

	default:
		uploadResp, err := client.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, fmt.Errorf("erro ao fazer upload do documento: %w", err)
		}
		fileName := req.FileName
		if fileName == "" {
			fileName = "arquivo"
		}
		docMsg := &waE2E.DocumentMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(req.MimeType),
			FileName:      proto.String(fileName),
		}
		if req.Caption != "" {
			docMsg.Caption = proto.String(req.Caption)
		}
		return &waE2E.Message{DocumentMessage: docMsg}, nil
	}
}

// resolveJID aceita número cru, JID completo ou JID de grupo/broadcast.
func resolveJID(phone string) (types.JID, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return types.EmptyJID, ErrInvalidRecipient
	}

	if strings.Contains(phone, "@g.us") || strings.Contains(phone, "@broadcast") {
		return types.ParseJID(phone)
	}

	if strings.HasSuffix(phone, "@s.whatsapp.net") {
		phone = strings.TrimSuffix(phone, "@s.whatsapp.net")
	}

	phone = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if phone == "" {
		return types.EmptyJID, ErrInvalidRecipient
	}

	return types.NewJID(phone, types.DefaultUserServer), nil
}
