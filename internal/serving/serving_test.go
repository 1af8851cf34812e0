package serving_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/gosuda/masgate/internal/serving"
)

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "adb-1.azuredatabricks.net", want: "https://adb-1.azuredatabricks.net"},
		{in: "https://adb-1.azuredatabricks.net/", want: "https://adb-1.azuredatabricks.net"},
		{in: " http://localhost:8080 ", want: "http://localhost:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, serving.NormalizeHost(tt.in))
		})
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Parallel()

	t.Run("complete", func(t *testing.T) {
		t.Parallel()

		creds, err := serving.EnvCredentials{Host: "ws.example.com", Token: "dapi"}.Credentials(t.Context(), nil)
		require.NoError(t, err)
		assert.Equal(t, "https://ws.example.com", creds.Host)
		assert.Equal(t, "dapi", creds.Token)
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()

		_, err := serving.EnvCredentials{Host: "ws.example.com"}.Credentials(t.Context(), nil)
		assert.ErrorIs(t, err, serving.ErrNoCredentials)
	})
}

func TestForwardedTokenCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  http.Header
		want    string
		wantErr bool
	}{
		{
			name:   "forwarded header",
			header: http.Header{serving.HeaderForwardedAccessToken: {"user-token"}, "Authorization": {"Bearer other"}},
			want:   "user-token",
		},
		{
			name:   "bearer fallback",
			header: http.Header{"Authorization": {"Bearer inbound"}},
			want:   "inbound",
		},
		{
			name:    "nothing",
			header:  http.Header{"Authorization": {"Basic abc"}},
			wantErr: true,
		},
		{
			name:    "nil header",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			creds, err := serving.ForwardedTokenCredentials{Host: "ws"}.Credentials(t.Context(), tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, serving.ErrNoCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, creds.Token)
			assert.Equal(t, "https://ws", creds.Host)
		})
	}
}

func TestOAuthCredentials(t *testing.T) {
	t.Parallel()

	type tokenRequest struct{ path, scope string }
	seen := make(chan tokenRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		seen <- tokenRequest{path: r.URL.Path, scope: r.PostForm.Get("scope")}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "sp-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)

	ctx := context.WithValue(t.Context(), oauth2.HTTPClient, srv.Client())
	provider := serving.NewOAuthCredentials(ctx, srv.URL, "client", "secret")

	creds, err := provider.Credentials(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sp-token", creds.Token)
	assert.Equal(t, srv.URL, creds.Host)

	got := <-seen
	assert.Equal(t, "/oidc/v1/token", got.path)
	assert.Equal(t, "all-apis", got.scope)
}

type stubProvider struct {
	creds serving.Credentials
	err   error
	calls int
}

func (s *stubProvider) Credentials(context.Context, http.Header) (serving.Credentials, error) {
	s.calls++
	return s.creds, s.err
}

func TestChainCredentials(t *testing.T) {
	t.Parallel()

	t.Run("first success wins", func(t *testing.T) {
		t.Parallel()

		failing := &stubProvider{err: serving.ErrNoCredentials}
		ok := &stubProvider{creds: serving.Credentials{Host: "h", Token: "t"}}
		never := &stubProvider{creds: serving.Credentials{Host: "x", Token: "x"}}

		creds, err := serving.ChainCredentials{failing, ok, never}.Credentials(t.Context(), nil)
		require.NoError(t, err)
		assert.Equal(t, "t", creds.Token)
		assert.Equal(t, 1, failing.calls)
		assert.Zero(t, never.calls)
	})

	t.Run("all fail", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		_, err := serving.ChainCredentials{&stubProvider{err: serving.ErrNoCredentials}, &stubProvider{err: boom}}.Credentials(t.Context(), nil)
		assert.ErrorIs(t, err, serving.ErrNoCredentials)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		_, err := serving.ChainCredentials{}.Credentials(t.Context(), nil)
		assert.ErrorIs(t, err, serving.ErrNoCredentials)
	})
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

type capturedRequest struct {
	Path   string
	Auth   string
	Accept string
	Body   map[string]any
}

// newEndpointServer answers every request with status and body and reports
// what it received on the returned channel.
func newEndpointServer(t *testing.T, status int, body string) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()

	seen := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured := capturedRequest{
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Accept: r.Header.Get("Accept"),
		}
		_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		seen <- captured
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestClient_Stream(t *testing.T) {
	t.Parallel()

	srv, seen := newEndpointServer(t, http.StatusOK, "data: {\"type\":\"x\"}\n\ndata: [DONE]\n\n")

	client := serving.NewClient(serving.EnvCredentials{Host: srv.URL, Token: "tok"}, srv.Client())
	body, err := client.Stream(t.Context(), "mas-endpoint", nil, []serving.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[DONE]")

	captured := <-seen

	assert.Equal(t, "/serving-endpoints/mas-endpoint/invocations", captured.Path)
	assert.Equal(t, "Bearer tok", captured.Auth)
	assert.Equal(t, "text/event-stream", captured.Accept)
	assert.Equal(t, true, captured.Body["stream"])
	assert.Len(t, captured.Body["input"], 1)
}

func TestClient_Invoke(t *testing.T) {
	t.Parallel()

	srv, seen := newEndpointServer(t, http.StatusOK, `{"output":[]}`)

	client := serving.NewClient(serving.EnvCredentials{Host: srv.URL, Token: "tok"}, srv.Client())
	body, err := client.Invoke(t.Context(), "ep", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"output":[]}`, string(body))

	captured := <-seen
	assert.NotContains(t, captured.Body, "stream")
	assert.Equal(t, []any{}, captured.Body["input"])
}

func TestClient_StatusError(t *testing.T) {
	t.Parallel()

	srv, _ := newEndpointServer(t, http.StatusForbidden, "PERMISSION_DENIED")

	client := serving.NewClient(serving.EnvCredentials{Host: srv.URL, Token: "tok"}, srv.Client())
	_, err := client.Stream(t.Context(), "ep", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, serving.ErrUpstreamStatus)

	var statusErr *serving.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, "PERMISSION_DENIED", statusErr.Body)
}

func TestClient_NoCredentials(t *testing.T) {
	t.Parallel()

	client := serving.NewClient(serving.EnvCredentials{}, nil)
	_, err := client.Invoke(t.Context(), "ep", nil, nil)
	assert.ErrorIs(t, err, serving.ErrNoCredentials)
}

func TestInvocationsURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://h/serving-endpoints/a%20b/invocations", serving.InvocationsURL("https://h/", "a b"))
}
