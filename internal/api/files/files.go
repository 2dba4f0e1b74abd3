// Package files streams documents held by the local storage backend. The
// links it accepts are minted by local.LocalStorage.SignedURL; cloud backends
// hand out provider-signed URLs and never route through here.
package files

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/storage"
)

// Source is a storage backend that can verify its own signed URLs.
type Source interface {
	storage.URLVerifier
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// @Summary      Download a signed file
// @Description  Streams a document from local storage after checking the expiring HMAC signature in the query.
// @Tags         Files
// @Produce      application/octet-stream
// @Param        key        path   string  true  "Storage key"
// @Param        expires    query  int     true  "Unix expiry time"
// @Param        signature  query  string  true  "Hex HMAC-SHA256 signature"
// @Success      200  {file}    binary
// @Failure      403  {object}  map[string]interface{}  "Signature invalid or expired"
// @Failure      404  {object}  map[string]interface{}  "File not found"
// @Router       /api/v1/files/{key} [get]
// ServeHandler handles GET /api/v1/files/*key
func ServeHandler(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")

		if err := src.VerifySignedURL(key, c.Query("expires"), c.Query("signature")); err != nil {
			msg := "invalid signature"
			if errors.Is(err, storage.ErrSignatureExpired) {
				msg = "link expired"
			}
			c.JSON(http.StatusForbidden, gin.H{"error": msg})
			return
		}

		rc, err := src.Download(c.Request.Context(), key)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			case errors.Is(err, storage.ErrInvalidKey):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			default:
				slog.ErrorContext(c.Request.Context(), "file download failed", "key", key, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
			}
			return
		}
		defer rc.Close()

		contentType := mime.TypeByExtension(path.Ext(key))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Cache-Control", "private, no-store")
		c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": path.Base(key)}))
		c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
	}
}
