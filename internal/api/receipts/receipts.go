// Package receipts serves donor tax documents: per-donation receipt PDFs and
// annual giving statements. Both are produced upstream and uploaded to
// storage (see cmd/publish); these handlers only deliver them, keeping a
// redis copy so repeat views skip storage.
package receipts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/cache"
	"github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

// maxPDFSize caps how much of a stored PDF is read into memory.
const maxPDFSize = 10 << 20

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is usable as a donation or donor identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Cache stores rendered PDFs by id. Get returns cache.ErrMiss when nothing
// is cached.
type Cache interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, pdf []byte) error
}

var _ Cache = (*cache.PDFStore)(nil)

// ReceiptKey returns the storage key of a donation's receipt.
func ReceiptKey(pathPrefix, donationID string) string {
	if pathPrefix == "" {
		return donationID + ".pdf"
	}
	return pathPrefix + "/" + donationID + ".pdf"
}

// Handler delivers receipt PDFs.
type Handler struct {
	src        pdfSource
	pathPrefix string
}

// NewHandler creates a receipt handler. c may be nil when caching is
// disabled.
func NewHandler(store storage.Storage, c Cache, pathPrefix string) *Handler {
	return &Handler{src: pdfSource{kind: "receipt", store: store, cache: c}, pathPrefix: pathPrefix}
}

// ObjectKey returns the storage key of a donation's receipt.
func (h *Handler) ObjectKey(donationID string) string {
	return ReceiptKey(h.pathPrefix, donationID)
}

// @Summary      Donation receipt
// @Description  Returns the receipt PDF for a donation. X-Cache reports whether it came from redis (HIT) or storage (MISS).
// @Tags         Receipts
// @Produce      application/pdf
// @Param        donationId  path  string  true  "Donation identifier"
// @Success      200  {file}    binary
// @Failure      400  {object}  map[string]interface{}  "Invalid donation id"
// @Failure      404  {object}  map[string]interface{}  "Receipt not found"
// @Router       /api/v1/donations/{donationId}/receipt.pdf [get]
// GetReceipt handles GET /api/v1/donations/:donationId/receipt.pdf
func (h *Handler) GetReceipt(c *gin.Context) {
	id := c.Param("donationId")
	if !ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid donation id"})
		return
	}

	pdf, cacheStatus, err := h.src.get(c.Request.Context(), id, h.ObjectKey(id))
	if err != nil {
		h.src.fail(c, err, "donation_id", id)
		return
	}
	writePDF(c, "RCPT-"+id+".pdf", pdf, cacheStatus)
}

// pdfSource reads PDFs of one kind from storage through an optional cache.
type pdfSource struct {
	kind  string
	store storage.Storage
	cache Cache
}

// get returns the PDF stored at key, trying the cache entry cacheID first.
// The second result is the X-Cache value. Cache failures never fail the
// lookup.
func (s pdfSource) get(ctx context.Context, cacheID, key string) ([]byte, string, error) {
	if pdf, ok := s.cached(ctx, cacheID); ok {
		return pdf, "HIT", nil
	}

	pdf, err := s.load(ctx, key)
	if err != nil {
		return nil, "", err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, cacheID, pdf); err != nil {
			slog.WarnContext(ctx, "failed to cache pdf", "kind", s.kind, "id", cacheID, "error", err)
		}
	}
	return pdf, "MISS", nil
}

func (s pdfSource) cached(ctx context.Context, id string) ([]byte, bool) {
	if s.cache == nil {
		telemetry.PDFCacheRequestsTotal.WithLabelValues(s.kind, "miss").Inc()
		return nil, false
	}
	pdf, err := s.cache.Get(ctx, id)
	switch {
	case err == nil:
		telemetry.PDFCacheRequestsTotal.WithLabelValues(s.kind, "hit").Inc()
		return pdf, true
	case errors.Is(err, cache.ErrMiss):
		telemetry.PDFCacheRequestsTotal.WithLabelValues(s.kind, "miss").Inc()
	default:
		telemetry.PDFCacheRequestsTotal.WithLabelValues(s.kind, "error").Inc()
		slog.WarnContext(ctx, "pdf cache unavailable", "kind", s.kind, "id", id, "error", err)
	}
	return nil, false
}

func (s pdfSource) load(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, maxPDFSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.kind, err)
	}
	if n > maxPDFSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", s.kind, maxPDFSize)
	}
	return buf.Bytes(), nil
}

// fail answers 404 for absent objects and 500 otherwise.
func (s pdfSource) fail(c *gin.Context, err error, logArgs ...any) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": s.kind + " not found"})
		return
	}
	slog.ErrorContext(c.Request.Context(), "failed to load "+s.kind, append(logArgs, "error", err)...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load " + s.kind})
}

func writePDF(c *gin.Context, filename string, pdf []byte, cacheStatus string) {
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	c.Header("X-Cache", cacheStatus)
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "application/pdf", pdf)
}
