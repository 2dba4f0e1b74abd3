// Package documents serves the data-room listing the portal panel renders.
// Each catalog entry is turned into a short-lived signed URL by the active
// storage backend; reviewers get a longer window than anonymous readers.
package documents

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/dataroom"
	"github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

// Signer is the subset of storage.Storage the listing needs.
type Signer interface {
	Name() string
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ Signer = storage.Storage(nil)

// BuildListing signs every catalog entry for org. Entries that cannot be
// signed are logged and left out so one missing document does not hide the
// rest. The order of the catalog is preserved.
func BuildListing(ctx context.Context, signer Signer, catalog []config.CatalogEntry, org string, ttl time.Duration) dataroom.DocumentListResponse {
	docs := make([]dataroom.Document, 0, len(catalog))
	for _, entry := range catalog {
		url, err := signer.SignedURL(ctx, entry.Key, ttl)
		if err != nil {
			telemetry.DataRoomSigningErrorsTotal.Inc()
			slog.WarnContext(ctx, "failed to sign data-room document",
				"org", org, "key", entry.Key, "backend", signer.Name(), "error", err)
			continue
		}
		telemetry.DataRoomDocumentsSignedTotal.WithLabelValues(signer.Name()).Inc()

		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = path.Base(entry.Key)
		}
		docs = append(docs, dataroom.Document{Name: name, URL: url, Key: entry.Key})
	}
	return dataroom.DocumentListResponse{Org: org, Documents: docs}
}

// @Summary      List data-room documents
// @Description  Returns the organization's data-room documents with signed download URLs. Reviewer links live for data_room.reviewer_url_ttl, others for data_room.default_url_ttl.
// @Tags         DataRoom
// @Produce      json
// @Param        org       query  string  false  "Organization identifier (defaults to portal.default_org)"
// @Param        reviewer  query  bool    false  "Issue reviewer-length links"
// @Success      200  {object}  dataroom.DocumentListResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid organization or reviewer flag"
// @Router       /api/v1/data-room/documents [get]
// ListHandler handles GET /api/v1/data-room/documents
func ListHandler(signer Signer, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		org := dataroom.ResolveOrg(c.Query("org"), cfg.Portal.DefaultOrg)
		if !dataroom.ValidOrg(org) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization"})
			return
		}

		reviewer := false
		if raw := c.Query("reviewer"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer must be a boolean"})
				return
			}
			reviewer = v
		}

		ttl := cfg.DataRoom.DefaultURLTTL
		if reviewer {
			ttl = cfg.DataRoom.ReviewerURLTTL
		}

		resp := BuildListing(c.Request.Context(), signer, cfg.DataRoom.CatalogFor(org), org, ttl)
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, resp)
	}
}
