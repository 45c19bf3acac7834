package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OutboundEmail is what a provider delivers. EmailID is the registry id and is
// used for provider-side correlation only.
type OutboundEmail struct {
	EmailID string
	From    string
	To      []string
	Subject string
	Body    string
}

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, msg OutboundEmail) error
}

// HTTPProvider delivers through a transactional-mail JSON API
// (Brevo-compatible request body, api-key header).
type HTTPProvider struct {
	name    string
	baseURL string
	path    string
	apiKey  string
	client  *http.Client
	br      *MicroBreaker
}

func NewHTTPProvider(
	name, baseURL, path, apiKey string,
	timeout time.Duration, failThreshold int, openFor time.Duration,
) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if name == "" {
		name = "http"
	}

	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		br:      NewMicroBreaker(failThreshold, openFor),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

type apiAddress struct {
	Email string `json:"email"`
}

type apiEmail struct {
	Sender      apiAddress        `json:"sender"`
	To          []apiAddress      `json:"to"`
	Subject     string            `json:"subject"`
	TextContent string            `json:"textContent"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func (p *HTTPProvider) Send(ctx context.Context, msg OutboundEmail) error {
	if err := p.post(ctx, msg); err != nil {
		p.br.OnFailure()
		return err
	}

	p.br.OnSuccess()

	return nil
}

func (p *HTTPProvider) post(ctx context.Context, msg OutboundEmail) error {
	payload := apiEmail{
		Sender:      apiAddress{Email: msg.From},
		Subject:     msg.Subject,
		TextContent: msg.Body,
	}
	for _, to := range msg.To {
		payload.To = append(payload.To, apiAddress{Email: to})
	}
	if msg.EmailID != "" {
		payload.Headers = map[string]string{"X-Mailsched-ID": msg.EmailID}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("api-key", p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("provider=%s status=%d body=%q", p.name, res.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}
