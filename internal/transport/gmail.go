package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/pkg/httpretry"
	"github.com/certhub/mailer/internal/pkg/logger"
)

// GmailTransport sends through the Gmail REST API using the sending
// identity's OAuth token. The raw MIME payload is base64url-encoded into
// the users.messages.send endpoint.
type GmailTransport struct {
	baseURL string
	tokens  TokenSource
	client  httpretry.HTTPDoer
	log     *logger.Logger
}

// NewGmailTransport creates a Gmail transport. If client is nil, a retrying
// HTTP client with the given timeout is used.
func NewGmailTransport(baseURL string, tokens TokenSource, timeout time.Duration, maxRetries int) *GmailTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GmailTransport{
		baseURL: baseURL,
		tokens:  tokens,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries),
		log:     logger.With("gmail"),
	}
}

// Send submits one message. The returned SendResult carries the provider
// message id used for delivery auditing.
func (t *GmailTransport) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	cred, err := t.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}

	mime, err := BuildMIME(msg)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString(mime),
	})
	if err != nil {
		return nil, err
	}

	url := t.baseURL + "/gmail/v1/users/me/messages/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmail send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.log.Warn("send rejected", "status", resp.StatusCode, "recipient_email", msg.To)
		return nil, fmt.Errorf("%w: gmail status %d: %s", ErrSendRejected, resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gmail response: %w", err)
	}

	return &domain.SendResult{
		MessageID: result.ID,
		Provider:  domain.ProviderGmail,
		SentAt:    time.Now().UTC(),
	}, nil
}
