package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapvia/campaign-gateway/internal/faults"
	"github.com/zapvia/campaign-gateway/internal/model"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, APIKey: "global-key", TimeoutMs: 500})
}

func TestSendTextMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SendMessage(context.Background(),
		Instance{ID: "inst-1", Token: "inst-token"},
		OutboundMessage{Phone: "+5511999990000", Body: "oi", Type: model.MessageText})

	require.NoError(t, err)
	assert.Equal(t, "/message/sendText/inst-1", gotPath)
	assert.Equal(t, "inst-token", gotAuth)
	assert.Equal(t, map[string]string{"number": "+5511999990000", "text": "oi"}, gotBody)
}

func TestSendMediaMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SendMessage(context.Background(),
		Instance{ID: "inst-1"},
		OutboundMessage{Phone: "+55", Body: "caption", Type: model.MessageMedia, MediaURL: "http://img/x.png"})

	require.NoError(t, err)
	assert.Equal(t, "/message/sendMedia/inst-1", gotPath)
	assert.Equal(t, "http://img/x.png", gotBody["mediaUrl"])
	assert.Equal(t, "caption", gotBody["caption"])
}

func TestGlobalKeyFallback(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("apikey")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.SendMessage(context.Background(), Instance{ID: "i"},
		OutboundMessage{Phone: "+55", Body: "x", Type: model.MessageText})
	require.NoError(t, err)
	assert.Equal(t, "global-key", gotAuth)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, faults.ErrPermanentSend},
		{http.StatusNotFound, faults.ErrPermanentSend},
		{http.StatusUnprocessableEntity, faults.ErrPermanentSend},
		{http.StatusTooManyRequests, faults.ErrTransientSend},
		{http.StatusInternalServerError, faults.ErrTransientSend},
		{http.StatusBadGateway, faults.ErrTransientSend},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := newTestClient(srv.URL)
		err := c.SendMessage(context.Background(), Instance{ID: "i"},
			OutboundMessage{Phone: "+55", Body: "x", Type: model.MessageText})
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		srv.Close()
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, TimeoutMs: 50})
	err := c.SendMessage(context.Background(), Instance{ID: "i"},
		OutboundMessage{Phone: "+55", Body: "x", Type: model.MessageText})
	assert.ErrorIs(t, err, faults.ErrTransientSend)
}

func TestBreakerOpensPerInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, TimeoutMs: 500, FailThreshold: 2, OpenForMs: 60000})
	msg := OutboundMessage{Phone: "+55", Body: "x", Type: model.MessageText}

	for i := 0; i < 2; i++ {
		err := c.SendMessage(context.Background(), Instance{ID: "down"}, msg)
		assert.ErrorIs(t, err, faults.ErrTransientSend)
	}

	// breaker now rejects without touching the wire
	err := c.SendMessage(context.Background(), Instance{ID: "down"}, msg)
	assert.ErrorIs(t, err, faults.ErrTransientSend)
	assert.Contains(t, err.Error(), "breaker open")

	// sibling instance is unaffected (still hits the 500)
	err = c.SendMessage(context.Background(), Instance{ID: "up"}, msg)
	assert.ErrorIs(t, err, faults.ErrTransientSend)
	assert.NotContains(t, err.Error(), "breaker open")
}

func TestInstanceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instance/connectionState/inst-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Status{Connected: true, State: "open"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	st, err := c.InstanceStatus(context.Background(), Instance{ID: "inst-1"})
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "open", st.State)
}
