package brivo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/memberships/pkg/config"
)

type fakeBrivo struct {
	tokenCalls atomic.Int32
	mux        *http.ServeMux
}

func newFakeBrivo(t *testing.T) (*fakeBrivo, *Client) {
	t.Helper()
	f := &fakeBrivo{mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client", user)
		require.Equal(t, "secret", pass)
		require.Equal(t, "key", r.Header.Get("api-key"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "password", r.PostForm.Get("grant_type"))
		require.Equal(t, "svc", r.PostForm.Get("username"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	cfg := &config.Config{Brivo: config.BrivoConfig{
		Enabled:      true,
		BaseURL:      srv.URL + "/v1/api",
		AuthURL:      srv.URL + "/oauth/token",
		APIKey:       "key",
		ClientID:     "client",
		ClientSecret: "secret",
		Username:     "svc",
		Password:     "pw",
		Timeout:      time.Second,
	}}
	return f, New(cfg)
}

func requireAuthed(t *testing.T, r *http.Request) {
	require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
	require.Equal(t, "key", r.Header.Get("api-key"))
}

func TestClient_PersonLifecycle(t *testing.T) {
	f, c := newFakeBrivo(t)
	ctx := context.Background()

	f.mux.HandleFunc("GET /v1/api/users", func(w http.ResponseWriter, r *http.Request) {
		requireAuthed(t, r)
		require.Equal(t, "externalId__eq:u1", r.URL.Query().Get("filter"))
		_ = json.NewEncoder(w).Encode(listPayload[personPayload]{})
	})
	f.mux.HandleFunc("POST /v1/api/users", func(w http.ResponseWriter, r *http.Request) {
		requireAuthed(t, r)
		var in personPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "u1", in.ExternalID)
		require.Equal(t, "ada@example.com", in.Emails[0].Address)
		in.ID = 42
		_ = json.NewEncoder(w).Encode(in)
	})
	f.mux.HandleFunc("GET /v1/api/users/7", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	found, err := c.FindPersonByExternalID(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, found)

	created, err := c.CreatePerson(ctx, Person{ExternalID: "u1", FirstName: "Ada", LastName: "L", Email: "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, "42", created.ID)
	require.Equal(t, "ada@example.com", created.Email)

	missing, err := c.GetPerson(ctx, "7")
	require.NoError(t, err)
	require.Nil(t, missing)

	// token fetched once and reused
	require.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestClient_GroupsAndPasses(t *testing.T) {
	f, c := newFakeBrivo(t)
	ctx := context.Background()

	var added, removed []string
	f.mux.HandleFunc("GET /v1/api/users/42/groups", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(listPayload[groupPayload]{Data: []groupPayload{{ID: 1, Name: "members"}, {ID: 9, Name: "legacy"}}})
	})
	f.mux.HandleFunc("PUT /v1/api/groups/{gid}/users/{uid}", func(w http.ResponseWriter, r *http.Request) {
		added = append(added, r.PathValue("gid"))
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("DELETE /v1/api/groups/{gid}/users/{uid}", func(w http.ResponseWriter, r *http.Request) {
		removed = append(removed, r.PathValue("gid"))
		http.Error(w, "not a member", http.StatusNotFound)
	})
	f.mux.HandleFunc("GET /v1/api/users/42/credentials/digital-invitations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(listPayload[passPayload]{Data: []passPayload{{ID: 5, Email: "ada@example.com", Status: "PENDING"}}})
	})
	f.mux.HandleFunc("DELETE /v1/api/users/42/credentials/digital-invitations/5", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	groups, err := c.ListPersonGroups(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "9"}, groups)

	require.NoError(t, c.AddPersonToGroup(ctx, "2", "42"))
	require.NoError(t, c.RemovePersonFromGroup(ctx, "9", "42"))
	require.Equal(t, []string{"2"}, added)
	require.Equal(t, []string{"9"}, removed)

	passes, err := c.ListMobilePasses(ctx, "42")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	require.True(t, passes[0].Usable())
	require.NoError(t, c.RevokeMobilePass(ctx, "42", "5"))
}

func TestClient_ErrorStatusSurfaces(t *testing.T) {
	f, c := newFakeBrivo(t)
	f.mux.HandleFunc("GET /v1/api/users/42/groups", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.ListPersonGroups(context.Background(), "42")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_UnauthorizedRefetchesToken(t *testing.T) {
	f, c := newFakeBrivo(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /v1/api/users/42/groups", func(w http.ResponseWriter, r *http.Request) {
		requireAuthed(t, r)
		if calls.Add(1) == 1 {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(listPayload[groupPayload]{})
	})

	_, err := c.ListPersonGroups(context.Background(), "42")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	groups, err := c.ListPersonGroups(context.Background(), "42")
	require.NoError(t, err)
	require.Empty(t, groups)
	require.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestClient_Configured(t *testing.T) {
	require.False(t, New(&config.Config{}).Configured())
	_, c := newFakeBrivo(t)
	require.True(t, c.Configured())
}
