// Package gateway wraps the external WhatsApp gateway API behind a
// uniform client. Failures are classified into the pipeline's transient /
// permanent taxonomy; a per-instance circuit breaker sheds load from
// instances that keep failing.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zapvia/campaign-gateway/internal/faults"
	"github.com/zapvia/campaign-gateway/internal/model"
)

// Instance is one WhatsApp gateway instance with its credentials.
type Instance struct {
	ID    string
	Token string
}

// OutboundMessage is a single send request.
type OutboundMessage struct {
	Phone    string
	Body     string
	Type     model.MessageType
	MediaURL string
}

// Status is the gateway's view of an instance connection.
type Status struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

type Config struct {
	BaseURL       string
	APIKey        string // global gateway key, instance token takes precedence
	TimeoutMs     int
	FailThreshold int
	OpenForMs     int
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	brMu          sync.Mutex
	breakers      map[string]*instanceBreaker
	failThreshold int
	openFor       time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 5
	}
	if cfg.OpenForMs <= 0 {
		cfg.OpenForMs = 30000
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		http:          &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		breakers:      make(map[string]*instanceBreaker),
		failThreshold: cfg.FailThreshold,
		openFor:       time.Duration(cfg.OpenForMs) * time.Millisecond,
	}
}

func (c *Client) breaker(instanceID string) *instanceBreaker {
	c.brMu.Lock()
	defer c.brMu.Unlock()
	br, ok := c.breakers[instanceID]
	if !ok {
		br = newInstanceBreaker(instanceID, c.failThreshold, c.openFor)
		c.breakers[instanceID] = br
	}
	return br
}

// SendMessage delivers one message through the given instance. An open
// breaker or any timeout/5xx/429 maps to faults.ErrTransientSend; an
// invalid destination maps to faults.ErrPermanentSend.
func (c *Client) SendMessage(ctx context.Context, inst Instance, msg OutboundMessage) error {
	br := c.breaker(inst.ID)
	if !br.allow() {
		return faults.TransientSend(fmt.Errorf("instance %s: breaker open", inst.ID))
	}

	var path string
	var body any
	switch msg.Type {
	case model.MessageMedia:
		path = "/message/sendMedia/" + inst.ID
		body = map[string]string{"number": msg.Phone, "mediaUrl": msg.MediaURL, "caption": msg.Body}
	default:
		path = "/message/sendText/" + inst.ID
		body = map[string]string{"number": msg.Phone, "text": msg.Body}
	}

	err := c.post(ctx, inst, path, body)
	if err != nil {
		br.failure()
		return err
	}
	br.success()
	return nil
}

// InstanceStatus fetches the instance connection state. Errors are
// transient by definition (status checks are always retryable).
func (c *Client) InstanceStatus(ctx context.Context, inst Instance) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instance/connectionState/"+inst.ID, nil)
	if err != nil {
		return Status{}, faults.TransientSend(err)
	}
	c.setAuth(req, inst)

	res, err := c.http.Do(req)
	if err != nil {
		return Status{}, faults.TransientSend(err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return Status{}, faults.TransientSend(fmt.Errorf("instance %s status=%d", inst.ID, res.StatusCode))
	}

	var st Status
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		return Status{}, faults.TransientSend(err)
	}
	return st, nil
}

func (c *Client) post(ctx context.Context, inst Instance, path string, payload any) error {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return faults.TransientSend(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req, inst)

	res, err := c.http.Do(req)
	if err != nil {
		// includes client timeout: indefinite hangs feed the retry path
		return faults.TransientSend(err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))

	switch {
	case res.StatusCode/100 == 2:
		return nil
	case res.StatusCode == http.StatusBadRequest,
		res.StatusCode == http.StatusNotFound,
		res.StatusCode == http.StatusUnprocessableEntity:
		return faults.PermanentSend(fmt.Errorf("instance %s path=%s status=%d", inst.ID, path, res.StatusCode))
	default:
		return faults.TransientSend(fmt.Errorf("instance %s path=%s status=%d", inst.ID, path, res.StatusCode))
	}
}

func (c *Client) setAuth(req *http.Request, inst Instance) {
	if inst.Token != "" {
		req.Header.Set("apikey", inst.Token)
	} else if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
}
