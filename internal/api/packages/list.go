package packages

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/services"
)

// ListResponse is the body of GET /api/v1/packages.
type ListResponse struct {
	Packages []models.EncodablePackage `json:"packages"`
	Meta     ListMeta                  `json:"meta"`
}

// ListMeta carries the total number of packages matching the filter.
type ListMeta struct {
	Total int64 `json:"total"`
}

// @Summary      List packages
// @Description  Returns one page of packages, optionally filtered by name prefix. `letter` filters by the first character of the name.
// @Tags         Packages
// @Produce      json
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Page size, at most 100 (default 10)"
// @Param        prefix    query  string  false  "Name prefix"
// @Param        letter    query  string  false  "First letter of the name"
// @Success      200  {object}  ListResponse
// @Failure      400  {object}  errorBody
// @Router       /api/v1/packages [get]
// List handles GET /api/v1/packages
func (h *Handler) List(c *gin.Context) {
	page, ok := intQuery(c, "page", services.DefaultPage)
	if !ok {
		return
	}
	perPage, ok := intQuery(c, "per_page", services.DefaultPerPage)
	if !ok {
		return
	}

	prefix := c.Query("prefix")
	if letter := c.Query("letter"); letter != "" && prefix == "" {
		r, _ := utf8.DecodeRuneInString(letter)
		prefix = strings.ToLower(string(r))
	}

	list, err := h.catalog.List(c.Request.Context(), page, perPage, prefix)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Packages: list.Packages, Meta: ListMeta{Total: list.Total}})
}

// @Summary      Registry summary
// @Description  Returns package and download totals plus the newest, most downloaded and most recently updated packages.
// @Tags         Packages
// @Produce      json
// @Success      200  {object}  services.Summary
// @Router       /api/v1/summary [get]
// Summary handles GET /api/v1/summary
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.catalog.Summary(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// intQuery reads an integer query parameter, writing a 400 when it is malformed.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, "invalid "+key+" parameter: must be an integer")
		return 0, false
	}
	return v, true
}
