package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIPost_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/things" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "thing-1", "name": body["name"]})
	}))
	defer srv.Close()

	var out map[string]string
	err := apiPost(srv.URL, "/api/things", map[string]string{"name": "x"}, &out)
	if err != nil {
		t.Fatalf("apiPost: %v", err)
	}
	if out["id"] != "thing-1" || out["name"] != "x" {
		t.Errorf("out = %v", out)
	}
}

func TestAPIPost_SurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "held by gw-aaaa1111"})
	}))
	defer srv.Close()

	err := apiPost(srv.URL, "/api/x", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "held by gw-aaaa1111") {
		t.Errorf("err = %v", err)
	}
}

func TestAPIGet_NoContentBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out map[string]string
	if err := apiGet(srv.URL, "/api/x", &out); err != nil {
		t.Fatalf("apiGet: %v", err)
	}
}

func TestAPIPost_Unreachable(t *testing.T) {
	err := apiPost("http://127.0.0.1:1", "/api/x", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("err = %v", err)
	}
}
