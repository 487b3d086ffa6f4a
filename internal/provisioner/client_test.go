package provisioner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"invite-service/internal/httpclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSidecar(t *testing.T, members map[string]bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /access/grant", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req accessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Email == "blocked@b.co" {
			_ = json.NewEncoder(w).Encode(accessResponse{OK: false, Error: "seat limit reached"})
			return
		}
		members[req.Email] = true
		_ = json.NewEncoder(w).Encode(accessResponse{OK: true})
	})
	mux.HandleFunc("POST /access/revoke", func(w http.ResponseWriter, r *http.Request) {
		var req accessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		delete(members, req.Email)
		_ = json.NewEncoder(w).Encode(accessResponse{OK: true})
	})
	mux.HandleFunc("GET /access/probe", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(accessResponse{OK: true, Exists: members[r.URL.Query().Get("email")]})
	})
	return httptest.NewServer(mux)
}

func TestGrantProbeRevoke(t *testing.T) {
	members := map[string]bool{}
	srv := newSidecar(t, members)
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", httpclient.New("provisioner", time.Second))
	ctx := context.Background()

	require.NoError(t, c.Grant(ctx, "a+1@b.co"))
	exists, err := c.Probe(ctx, "a+1@b.co")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Revoke(ctx, "a+1@b.co"))
	exists, err = c.Probe(ctx, "a+1@b.co")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGrantReportedFailure(t *testing.T) {
	srv := newSidecar(t, map[string]bool{})
	defer srv.Close()

	c := NewClient(srv.URL, "secret", httpclient.New("provisioner", time.Second))
	err := c.Grant(context.Background(), "blocked@b.co")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seat limit reached")
}
