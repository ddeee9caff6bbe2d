package ice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const stunFallback = `[{"urls": "stun:stun.l.google.com:19302"}]`

func TestFallbackWithoutCredentials(t *testing.T) {
	p, err := New(Credentials{}, stunFallback, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	servers := p.Servers(context.Background())
	if !strings.Contains(string(servers), "stun:") {
		t.Fatalf("servers = %s, want stun fallback", servers)
	}
}

func TestRejectsInvalidFallbackJSON(t *testing.T) {
	if _, err := New(Credentials{}, "not json", nil); err == nil {
		t.Fatal("expected error for invalid fallback")
	}
}

func TestFetchesTwilioTurnCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/Accounts/ACtest/Tokens.json") {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "SKtest" || pass != "secret" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"ice_servers": [
				{"urls": "stun:global.stun.twilio.com:3478"},
				{"urls": "turn:global.turn.twilio.com:3478?transport=udp", "username": "u", "credential": "c"}
			],
			"ttl": "86400"
		}`))
	}))
	defer srv.Close()

	creds := Credentials{AccountSID: "ACtest", APIKey: "SKtest", APISecret: "secret"}
	p, err := New(creds, stunFallback, nil, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	servers := p.Servers(context.Background())
	var parsed []map[string]any
	if err := json.Unmarshal(servers, &parsed); err != nil {
		t.Fatalf("servers not JSON: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d servers, want 2", len(parsed))
	}
	if parsed[1]["username"] != "u" {
		t.Fatalf("turn server = %+v", parsed[1])
	}
}

func TestFallsBackOnTwilioError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := Credentials{AccountSID: "ACtest", APIKey: "SKtest", APISecret: "wrong"}
	p, err := New(creds, stunFallback, nil, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	servers := p.Servers(context.Background())
	if !strings.Contains(string(servers), "stun:stun.l.google.com") {
		t.Fatalf("servers = %s, want stun fallback", servers)
	}
}
