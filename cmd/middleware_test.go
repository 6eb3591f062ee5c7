package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"

	repairhttp "repairBack/internal/repair/http"
)

func testApp() *application {
	return &application{
		logger:    zap.NewNop().Sugar(),
		jwtSecret: []byte("secret"),
		admins:    []int64{7},
	}
}

func adminEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := repairhttp.AdminFrom(r.Context())
		if !ok || id != 7 {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminOnly(t *testing.T) {
	app := testApp()
	valid, err := generateAdminToken(app.jwtSecret, 7, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	expired, _ := generateAdminToken(app.jwtSecret, 7, -time.Hour)
	stranger, _ := generateAdminToken(app.jwtSecret, 8, time.Hour)
	foreign, _ := generateAdminToken([]byte("other"), 7, time.Hour)
	client, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &adminClaims{
		UserID:         7,
		Role:           "client",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}).SignedString(app.jwtSecret)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + valid, "", http.StatusOK},
		{"query token", "", "?token=" + valid, http.StatusOK},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, "", http.StatusUnauthorized},
		{"not in directory", "Bearer " + stranger, "", http.StatusForbidden},
		{"not admin role", "Bearer " + client, "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/repair/requests"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			app.adminOnly(adminEcho()).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRecoverPanic(t *testing.T) {
	app := testApp()
	h := app.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Connection") != "close" {
		t.Fatalf("connection header not set")
	}
}

func TestSecureHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	secureHeaders(makeResponseJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Frame-Options") != "deny" || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("headers = %v", rr.Header())
	}
}
