package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"jobsync/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Webhook posts completed run records to a configured endpoint. Delivery
// is single-attempt and best-effort: a failed notification is logged and
// never changes the run outcome.
type Webhook struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
}

func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		url:     url,
		secret:  secret,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Notify posts the run record as JSON with an HMAC signature.
// Headers: X-JobSync-Run-ID, X-JobSync-Status, X-JobSync-Signature
func (w *Webhook) Notify(ctx context.Context, run domain.Run) {
	if err := w.send(ctx, run); err != nil {
		log.Printf("notify: run %s: %v", run.ID, err)
	}
}

func (w *Webhook) send(ctx context.Context, run domain.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-JobSync-Run-ID", run.ID.String())
	req.Header.Set("X-JobSync-Status", string(run.Status))
	req.Header.Set("X-JobSync-Signature", computeSignature(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
