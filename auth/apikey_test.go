package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type failingStore struct{ err error }

func (s failingStore) Lookup(context.Context, string) (*APIKeyInfo, error) { return nil, s.err }

func keyRequest(header, key string) *AuthRequest {
	h := http.Header{}
	if key != "" {
		h.Set(header, key)
	}
	return &AuthRequest{Headers: h}
}

func TestHashAPIKey(t *testing.T) {
	a := HashAPIKey("secret")
	if a != HashAPIKey("secret") {
		t.Error("HashAPIKey is not deterministic")
	}
	if a == HashAPIKey("Secret") {
		t.Error("HashAPIKey collides on case")
	}
	if len(a) != 64 {
		t.Errorf("len(HashAPIKey()) = %d, want 64", len(a))
	}
}

func TestAPIKeyAuthenticator_Supports(t *testing.T) {
	authn := NewAPIKeyAuthenticator(APIKeyConfig{}, NewMemoryAPIKeyStore())

	if authn.Name() != "api_key" {
		t.Errorf("Name() = %q, want api_key", authn.Name())
	}
	if !authn.Supports(context.Background(), keyRequest("X-API-Key", "k")) {
		t.Error("Supports() = false with X-API-Key set")
	}
	if !authn.Supports(context.Background(), keyRequest("x-api-key", "k")) {
		t.Error("Supports() = false with lowercase header")
	}
	if authn.Supports(context.Background(), keyRequest("X-API-Key", "")) {
		t.Error("Supports() = true without header")
	}
}

func TestAPIKeyAuthenticator_Authenticate(t *testing.T) {
	store := NewMemoryAPIKeyStore()
	store.AddKey("ops-1", "ops-secret", "ops-bot", "operator")
	store.Add(&APIKeyInfo{
		ID:        "old",
		KeyHash:   HashAPIKey("old-secret"),
		Principal: "retired",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	authn := NewAPIKeyAuthenticator(APIKeyConfig{}, store)

	tests := []struct {
		name      string
		key       string
		wantAuth  bool
		wantErr   error
		principal string
	}{
		{"valid", "ops-secret", true, nil, "ops-bot"},
		{"padded", "  ops-secret ", true, nil, "ops-bot"},
		{"unknown", "nope", false, ErrInvalidCredentials, ""},
		{"expired", "old-secret", false, ErrTokenExpired, ""},
		{"empty", "   ", false, ErrMissingCredentials, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := authn.Authenticate(context.Background(), keyRequest("X-API-Key", tt.key))
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if result.Authenticated != tt.wantAuth {
				t.Fatalf("Authenticated = %v, want %v", result.Authenticated, tt.wantAuth)
			}
			if !tt.wantAuth {
				if !errors.Is(result.Error, tt.wantErr) {
					t.Errorf("Error = %v, want %v", result.Error, tt.wantErr)
				}
				return
			}
			id := result.Identity
			if id.Principal != tt.principal {
				t.Errorf("Principal = %q, want %q", id.Principal, tt.principal)
			}
			if !id.HasRole("operator") {
				t.Error("HasRole(operator) = false")
			}
			if id.Claims["key_id"] != "ops-1" {
				t.Errorf("Claims[key_id] = %v, want ops-1", id.Claims["key_id"])
			}
		})
	}
}

func TestAPIKeyAuthenticator_StoreError(t *testing.T) {
	storeErr := errors.New("store down")
	authn := NewAPIKeyAuthenticator(APIKeyConfig{HeaderName: "X-Relay-Key"}, failingStore{err: storeErr})

	result, err := authn.Authenticate(context.Background(), keyRequest("X-Relay-Key", "k"))
	if !errors.Is(err, storeErr) {
		t.Errorf("Authenticate() error = %v, want %v", err, storeErr)
	}
	if result != nil {
		t.Errorf("result = %v, want nil on store error", result)
	}
}

func TestMemoryAPIKeyStore_Remove(t *testing.T) {
	store := NewMemoryAPIKeyStore()
	store.AddKey("a", "raw", "alice")

	if info, _ := store.Lookup(context.Background(), HashAPIKey("raw")); info == nil {
		t.Fatal("Lookup() = nil after AddKey")
	}
	store.Remove(HashAPIKey("raw"))
	if info, _ := store.Lookup(context.Background(), HashAPIKey("raw")); info != nil {
		t.Errorf("Lookup() = %v after Remove", info)
	}
}
