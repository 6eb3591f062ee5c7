package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing api key")
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["phone"] != "375291234567" {
			t.Fatalf("phone not normalized: %q", payload["phone"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "code": "4821", "sms_id": "s-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "key", "REPAIR")
	otp, err := c.SendOTP(context.Background(), "+375 (29) 123-45-67", "code {code}")
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if otp.Code != "4821" || otp.SMSID != "s-1" {
		t.Fatalf("unexpected otp %+v", otp)
	}
}

func TestSendOTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"unsuccessful", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "no balance"})
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) { time.Sleep(200 * time.Millisecond) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewClient(&http.Client{Timeout: 50 * time.Millisecond}, srv.URL, "key", "REPAIR")
			if _, err := c.SendOTP(context.Background(), "375291234567", "{code}"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSendOTPNotConfigured(t *testing.T) {
	c := NewClient(nil, "", "", "")
	if _, err := c.SendOTP(context.Background(), "1", "{code}"); err == nil {
		t.Fatal("expected error for missing base url")
	}
}
