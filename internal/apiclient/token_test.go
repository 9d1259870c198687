package apiclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenPropagator_SetAndClear(t *testing.T) {
	p := NewTokenPropagator()

	_, err := p.Token()
	require.ErrorIs(t, err, ErrNoToken)

	p.SetToken("abc")
	tok, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, "abc", p.Current())

	p.ClearToken()
	assert.Empty(t, p.Current())
}

func TestTokenPropagator_TransportReadsTokenAtSendTime(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewTokenPropagator()
	hc := &http.Client{Transport: p.Transport(nil)}

	send := func() {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := hc.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Empty(t, req.Header.Get("Authorization"), "caller request must not be mutated")
	}

	send()
	p.SetToken("first")
	send()
	p.SetToken("second")
	send()
	p.ClearToken()
	send()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "Bearer first", "Bearer second", ""}, headers)
}
