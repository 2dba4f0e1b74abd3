package receipts

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/storage"
)

var yearPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ValidYear reports whether year is a four-digit calendar year.
func ValidYear(year string) bool {
	return yearPattern.MatchString(year)
}

// StatementKey returns the storage key of a donor's annual statement.
func StatementKey(pathPrefix, donorID, year string) string {
	key := year + "/" + donorID + ".pdf"
	if pathPrefix == "" {
		return key
	}
	return pathPrefix + "/" + key
}

// StatementHandler delivers annual giving statements.
type StatementHandler struct {
	src        pdfSource
	pathPrefix string
}

// NewStatementHandler creates a statement handler. c may be nil when caching
// is disabled.
func NewStatementHandler(store storage.Storage, c Cache, pathPrefix string) *StatementHandler {
	return &StatementHandler{src: pdfSource{kind: "statement", store: store, cache: c}, pathPrefix: pathPrefix}
}

// @Summary      Annual giving statement
// @Description  Returns a donor's annual statement PDF. X-Cache reports whether it came from redis (HIT) or storage (MISS).
// @Tags         Receipts
// @Produce      application/pdf
// @Param        donorId  path  string  true  "Donor identifier"
// @Param        year     path  string  true  "Four-digit year"
// @Success      200  {file}    binary
// @Failure      400  {object}  map[string]interface{}  "Invalid donor id or year"
// @Failure      404  {object}  map[string]interface{}  "Statement not found"
// @Router       /api/v1/donors/{donorId}/statement/{year} [get]
// GetStatement handles GET /api/v1/donors/:donorId/statement/:year
func (h *StatementHandler) GetStatement(c *gin.Context) {
	donorID, year := c.Param("donorId"), c.Param("year")
	if !ValidID(donorID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid donor id"})
		return
	}
	if !ValidYear(year) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}

	pdf, cacheStatus, err := h.src.get(c.Request.Context(), donorID+":"+year, StatementKey(h.pathPrefix, donorID, year))
	if err != nil {
		h.src.fail(c, err, "donor_id", donorID, "year", year)
		return
	}
	writePDF(c, "YEAR-"+year+"-"+donorID+".pdf", pdf, cacheStatus)
}
