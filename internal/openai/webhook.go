package openai

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Webhook signature verification. The provider signs the raw request body
// with HMAC-SHA256 over "id.timestamp.body"; verification must run on the
// unparsed bytes before any JSON decoding.

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

const (
	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"

	signatureVersion   = "v1"
	secretPrefix       = "whsec_"
	timestampTolerance = 5 * time.Minute
)

// EventTypeResponseCompleted is the only event type that triggers processing;
// all others are acknowledged and ignored.
const EventTypeResponseCompleted = "response.completed"

// Event is a verified webhook delivery. Data carries only the response ID;
// the full output must be fetched separately.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt int64     `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	ID string `json:"id"`
}

// WebhookVerifier authenticates inbound webhook deliveries with the shared
// endpoint secret.
type WebhookVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookVerifier builds a verifier from a "whsec_"-prefixed base64 secret.
// A bare base64 secret is accepted too.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	raw := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	return &WebhookVerifier{secret: key, now: time.Now}, nil
}

// Unwrap verifies the signature over the raw body and, only then, parses the
// event. Any verification failure wraps ErrInvalidSignature so callers can
// answer with a single client error.
func (v *WebhookVerifier) Unwrap(body []byte, header http.Header) (*Event, error) {
	msgID := header.Get(headerWebhookID)
	timestamp := header.Get(headerWebhookTimestamp)
	signatures := header.Get(headerWebhookSignature)
	if msgID == "" || timestamp == "" || signatures == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, ErrMissingHeaders)
	}

	if err := v.checkTimestamp(timestamp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	expected := v.sign(msgID, timestamp, body)
	if !matchSignature(expected, signatures) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &event, nil
}

func (v *WebhookVerifier) checkTimestamp(raw string) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp %q", raw)
	}
	delta := v.now().Sub(time.Unix(ts, 0))
	if delta > timestampTolerance || delta < -timestampTolerance {
		return ErrStaleTimestamp
	}
	return nil
}

func (v *WebhookVerifier) sign(msgID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// matchSignature checks expected against a space-separated list of
// "v1,<base64>" entries in constant time per candidate.
func matchSignature(expected, signatures string) bool {
	for _, candidate := range strings.Fields(signatures) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
