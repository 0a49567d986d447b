package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	DeliveryHeader  = "X-Webhook-Id"

	signaturePrefix = "sha256="
)

// Sign returns the X-Signature value for a delivery: an HMAC-SHA256 over
// "<unix timestamp>.<body>".
func Sign(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// HMACVerifier accepts deliveries signed with Sign whose timestamp is within
// MaxSkew of now.
type HMACVerifier struct {
	Secret  []byte
	MaxSkew time.Duration
	Now     func() time.Time
}

func (v HMACVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	if len(v.Secret) == 0 {
		return errors.New("webhook secret is not configured")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(TimestampHeader)), 10, 64)
	if err != nil {
		return errors.Wrap(err, "invalid "+TimestampHeader)
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.MaxSkew > 0 && skew > v.MaxSkew {
		return errors.Errorf("timestamp outside the allowed window (%s)", v.MaxSkew)
	}
	got := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if !hmac.Equal([]byte(got), []byte(Sign(v.Secret, ts, body))) {
		return errors.New("signature mismatch")
	}
	return nil
}

// DeliveryTracker rejects a delivery id seen within TTL. State is per process.
type DeliveryTracker struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeliveryTracker(ttl time.Duration) *DeliveryTracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DeliveryTracker{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

func (t *DeliveryTracker) Check(_ context.Context, r *http.Request, _ []byte) error {
	id := strings.TrimSpace(r.Header.Get(DeliveryHeader))
	if id == "" {
		return errors.New("missing " + DeliveryHeader)
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, exp := range t.seen {
		if now.After(exp) {
			delete(t.seen, k)
		}
	}
	if exp, ok := t.seen[id]; ok && now.Before(exp) {
		return ErrReplayDetected
	}
	t.seen[id] = now.Add(t.ttl)
	return nil
}
