package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testinbox/backend/internal/config"
	"testinbox/backend/internal/domain"
)

func testMessage() *domain.Message {
	return &domain.Message{
		ID:       "msg-1",
		From:     "Acme <noreply@acme.test>",
		Subject:  "Your verification code",
		TextBody: "Your code is 482913",
	}
}

func newTestClient(url string) *Client {
	return NewClient(config.EnrichmentConfig{
		Endpoint: url,
		APIKey:   "secret-key",
		Timeout:  2 * time.Second,
	}, nil)
}

func TestClient_Enrich(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme <noreply@acme.test>", req.From)
		assert.Equal(t, "Your verification code", req.Subject)
		assert.Equal(t, "Your code is 482913", req.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"otp":"482913","link":"  ","summary":"Verification code","isSpam":false}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Enrich(context.Background(), testMessage())
	require.NoError(t, err)
	require.NotNil(t, result.OTP)
	assert.Equal(t, "482913", *result.OTP)
	assert.Nil(t, result.Link)
	require.NotNil(t, result.Summary)
	assert.Equal(t, "Verification code", *result.Summary)
	require.NotNil(t, result.IsSpam)
	assert.False(t, *result.IsSpam)
}

func TestClient_EnrichErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"无法解析的JSON", http.StatusOK, `not json`, ErrInvalidResponse},
		{"缺少必填字段", http.StatusOK, `{"otp":"1234"}`, ErrInvalidResponse},
		{"上游错误", http.StatusBadGateway, `upstream down`, ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			result, err := newTestClient(server.URL).Enrich(context.Background(), testMessage())
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_EnrichTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(config.EnrichmentConfig{Endpoint: server.URL, Timeout: 100 * time.Millisecond}, nil)
	_, err := client.Enrich(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestClient_UsesHTMLWhenTextEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "<p>Click</p>", req.Body)
		_, _ = w.Write([]byte(`{"summary":"s","isSpam":true}`))
	}))
	defer server.Close()

	msg := testMessage()
	msg.TextBody = ""
	msg.HTMLBody = "<p>Click</p>"

	result, err := newTestClient(server.URL).Enrich(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, *result.IsSpam)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Enrich(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
