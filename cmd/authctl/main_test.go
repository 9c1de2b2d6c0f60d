package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AtoyanMikhail/newsauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	write := func(w http.ResponseWriter, status int, resp models.APIResponse) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret-pass" {
			write(w, http.StatusUnauthorized, models.APIResponse{Error: "invalid email or password", Code: "invalid_credentials"})
			return
		}
		assert.NotEmpty(t, req.Fingerprint)
		write(w, http.StatusOK, models.APIResponse{Success: true, Data: models.LoginRes{
			AccessToken: "access-1",
			User:        models.UserRes{ID: "u-1", Username: "reader", Email: req.Email, Roles: []string{"subscriber"}},
		}})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			write(w, http.StatusUnauthorized, models.APIResponse{Error: "unauthorized", Code: "unauthorized"})
			return
		}
		write(w, http.StatusOK, models.APIResponse{Success: true, Data: models.MeRes{
			UserID: "u-1", Username: "reader", Roles: []string{"subscriber"},
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	srv := fakeAPI(t)

	tests := []struct {
		name     string
		args     []string
		password string
		wantOut  string
		wantErr  string
	}{
		{
			name:     "me",
			args:     []string{"-addr", srv.URL, "-email", "reader@news.local", "me"},
			password: "secret-pass",
			wantOut:  "u-1 reader roles=subscriber",
		},
		{
			name:     "login",
			args:     []string{"-addr", srv.URL, "-email", "reader@news.local", "login"},
			password: "secret-pass",
			wantOut:  "logged in as reader <reader@news.local>",
		},
		{
			name:     "wrong password",
			args:     []string{"-addr", srv.URL, "-email", "reader@news.local", "me"},
			password: "nope",
			wantErr:  "invalid_credentials",
		},
		{
			name:    "unknown command",
			args:    []string{"-addr", srv.URL, "dance"},
			wantErr: `unknown command "dance"`,
		},
		{
			name:    "missing command",
			args:    []string{"-addr", srv.URL},
			wantErr: "exactly one command is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUTHCTL_PASSWORD", tt.password)
			var out bytes.Buffer

			err := run(tt.args, strings.NewReader(""), &out)

			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestRun_PromptsForEmail(t *testing.T) {
	srv := fakeAPI(t)
	t.Setenv("AUTHCTL_EMAIL", "")
	t.Setenv("AUTHCTL_PASSWORD", "secret-pass")
	var out bytes.Buffer

	err := run([]string{"-addr", srv.URL, "login"}, strings.NewReader("typed@news.local\n"), &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Email: ")
	assert.Contains(t, out.String(), "<typed@news.local>")
}
