// Package webhooks handles inbound payment provider webhooks. Square events
// are authenticated with the provider's HMAC signature, checked for
// freshness, de-duplicated by event id and guarded by a short processing
// lock so concurrent redeliveries are handled once.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/cache"
	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

const (
	// SignatureHeader carries the base64 HMAC-SHA256 of notification URL + body.
	SignatureHeader = "X-Square-Hmacsha256-Signature"
	// TimestampHeader carries the delivery time in Unix seconds.
	TimestampHeader = "X-Request-Timestamp"

	maxPayloadSize = 1 << 20
	missingEventID = "no-id"
)

// Idempotency records processed events and guards in-flight ones.
type Idempotency interface {
	Lookup(ctx context.Context, eventID string, dst any) (bool, error)
	Store(ctx context.Context, eventID string, result any) error
	Lock(ctx context.Context, eventID string) (bool, error)
}

var _ Idempotency = (*cache.Idempotency)(nil)

// Result is the response body for an accepted event.
type Result struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Cached  bool   `json:"cached,omitempty"`
}

// SquareHandler receives Square webhook deliveries.
type SquareHandler struct {
	cfg  config.SquareWebhookConfig
	idem Idempotency
	now  func() time.Time
}

// NewSquareHandler creates a handler. idem may be nil, in which case events
// are processed without de-duplication.
func NewSquareHandler(cfg config.SquareWebhookConfig, idem Idempotency) *SquareHandler {
	return &SquareHandler{cfg: cfg, idem: idem, now: time.Now}
}

// VerifySignature reports whether signature is the base64 HMAC-SHA256 of
// notificationURL+body under key. Verification is skipped when either the
// key or the notification URL is not configured.
func VerifySignature(key, notificationURL string, body []byte, signature string) bool {
	if key == "" || notificationURL == "" {
		return true
	}
	return hmac.Equal([]byte(Sign(key, notificationURL, body)), []byte(signature))
}

// Sign returns the SignatureHeader value Square sends for body when
// delivering to notificationURL.
func Sign(key, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// checkTimestamp accepts a missing header and rejects unparsable or stale ones.
func (h *SquareHandler) checkTimestamp(raw string) bool {
	if raw == "" {
		return true
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	skew := h.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= h.cfg.TimestampTolerance
}

// @Summary      Receive Square webhook
// @Description  Verifies the Square HMAC signature and delivery timestamp, then records the event once. Redeliveries of a processed event return status "duplicate".
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Success      200  {object}  Result
// @Failure      400  {object}  map[string]interface{}  "Invalid signature, stale timestamp or malformed payload"
// @Failure      409  {object}  map[string]interface{}  "Event is being processed by another request"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded for the source IP"
// @Router       /api/v1/webhooks/square [post]
// Handle processes POST /api/v1/webhooks/square
func (h *SquareHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadSize))
	if err != nil {
		h.reject(c, http.StatusBadRequest, "bad_request", "failed to read payload")
		return
	}

	if !VerifySignature(h.cfg.SignatureKey, h.cfg.NotificationURL, body, c.GetHeader(SignatureHeader)) {
		h.reject(c, http.StatusBadRequest, "invalid_signature", "Invalid signature")
		return
	}
	if !h.checkTimestamp(c.GetHeader(TimestampHeader)) {
		h.reject(c, http.StatusBadRequest, "stale", "Invalid or stale timestamp")
		return
	}

	var event struct {
		EventID string `json:"event_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		h.reject(c, http.StatusBadRequest, "bad_request", "invalid JSON payload")
		return
	}
	eventID := event.EventID
	if eventID == "" {
		eventID = event.ID
	}
	if eventID == "" {
		eventID = missingEventID
	}

	if h.idem != nil {
		var prior Result
		seen, err := h.idem.Lookup(ctx, eventID, &prior)
		if err != nil {
			slog.WarnContext(ctx, "idempotency lookup failed, processing event", "event_id", eventID, "error", err)
		}
		if seen {
			telemetry.SquareWebhookEventsTotal.WithLabelValues("duplicate").Inc()
			c.JSON(http.StatusOK, Result{Status: "duplicate", EventID: eventID, Cached: true})
			return
		}

		locked, err := h.idem.Lock(ctx, eventID)
		if err != nil {
			slog.WarnContext(ctx, "processing lock unavailable, processing event", "event_id", eventID, "error", err)
			locked = true
		}
		if !locked {
			h.reject(c, http.StatusConflict, "locked", "Processing in progress")
			return
		}
	}

	result := h.process(ctx, eventID, body)

	if h.idem != nil {
		if err := h.idem.Store(ctx, eventID, result); err != nil {
			slog.WarnContext(ctx, "failed to record processed event", "event_id", eventID, "error", err)
		}
	}

	telemetry.SquareWebhookEventsTotal.WithLabelValues("processed").Inc()
	c.JSON(http.StatusOK, result)
}

// process accepts an event and logs its type. Only the result is kept, for
// deduplication; reconciliation works from the uploaded donation ledgers
// instead (POST /api/v1/reconciliation/run).
func (h *SquareHandler) process(ctx context.Context, eventID string, body []byte) Result {
	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &envelope)
	slog.InfoContext(ctx, "square webhook accepted", "event_id", eventID, "type", envelope.Type, "size", len(body))
	return Result{Status: "processed", EventID: eventID}
}

func (h *SquareHandler) reject(c *gin.Context, status int, outcome, msg string) {
	telemetry.SquareWebhookEventsTotal.WithLabelValues(outcome).Inc()
	slog.WarnContext(c.Request.Context(), "square webhook rejected", "outcome", outcome, "status", status)
	c.JSON(status, gin.H{"error": msg})
}

// CountRateLimited is a RateLimitOptions.OnLimited hook for the webhook route.
func CountRateLimited(*gin.Context) {
	telemetry.SquareWebhookEventsTotal.WithLabelValues("rate_limited").Inc()
}
