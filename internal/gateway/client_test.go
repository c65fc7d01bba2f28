package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoParsesJSONBody(t *testing.T) {
	var gotAuth, gotContentType, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("corpo inválido: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"messageId":"abc"}`))
	}))
	defer srv.Close()

	c := NewClient(0)
	res, err := c.Do(context.Background(), srv.URL+"/", "tok-123", http.MethodPost, "/send",
		map[string]any{"to": "5511999990000", "text": "oi"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	if !res.IsJSON() {
		t.Fatal("corpo JSON não foi interpretado")
	}
	if res.Body["messageId"] != "abc" {
		t.Errorf("Body = %v", res.Body)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	// Barra final da base URL não pode duplicar no caminho.
	if gotPath != "/send" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestDoNon2xxIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"instância ocupada"}`))
	}))
	defer srv.Close()

	c := NewClient(0)
	res, err := c.Do(context.Background(), srv.URL, "", http.MethodGet, "/status", nil)
	if err != nil {
		t.Fatalf("status 503 não é erro de transporte: %v", err)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	if res.ErrorField() != "instância ocupada" {
		t.Errorf("ErrorField = %q", res.ErrorField())
	}
}

func TestDoNonJSONKeepsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Cannot GET /qrcode"))
	}))
	defer srv.Close()

	c := NewClient(0)
	res, err := c.Do(context.Background(), srv.URL, "", http.MethodGet, "/qrcode", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.IsJSON() {
		t.Error("texto puro não deveria virar Body")
	}
	if res.Raw != "Cannot GET /qrcode" {
		t.Errorf("Raw = %q", res.Raw)
	}
}

func TestDoNetworkErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(0)
	if _, err := c.Do(context.Background(), srv.URL, "", http.MethodGet, "/health", nil); err == nil {
		t.Fatal("conexão recusada deveria retornar erro")
	}
}

func TestSuccessFalse(t *testing.T) {
	res := &Result{Body: map[string]any{"success": false}}
	if !res.SuccessFalse() {
		t.Error("success:false explícito não detectado")
	}
	res = &Result{Body: map[string]any{"success": true}}
	if res.SuccessFalse() {
		t.Error("success:true não pode contar como falha")
	}
	res = &Result{}
	if res.SuccessFalse() {
		t.Error("corpo ausente não pode contar como falha")
	}
}

func TestDoSkipsAuthHeaderWhenTokenEmpty(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(0)
	if _, err := c.Do(context.Background(), srv.URL, "", http.MethodGet, "/health", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization deveria ficar vazio, veio %q", gotAuth)
	}
}
