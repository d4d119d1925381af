package assistant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_prompt_response", r.URL.Path)
		assert.Equal(t, "turn on the lights", r.URL.Query().Get("prompt"))

		_, _ = w.Write([]byte("done"))
	}))
	defer server.Close()

	client, err := NewClient(&Config{ApiHost: server.URL})
	require.NoError(t, err)

	resp, err := client.SendPrompt(context.Background(), "turn on the lights")
	require.NoError(t, err)
	assert.Equal(t, "done", resp)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(&Config{ApiHost: server.URL})
	require.NoError(t, err)

	_, err = client.SendPrompt(context.Background(), "hello")
	assert.Error(t, err)
}

func TestClient_ConfigValidation(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{})
	assert.Error(t, err)
}
