package packages

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DownloadResponse is returned instead of a redirect to clients that prefer JSON.
type DownloadResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// @Summary      Download a package version
// @Description  Redirects to the tarball's public URL and counts the download. Clients that accept application/json get the URL in the body instead.
// @Tags         Packages
// @Produce      json
// @Param        package_id  path  string  true  "Package name"
// @Param        filename    path  string  true  "<name>-<version>.tar.gz"
// @Success      200  {object}  DownloadResponse
// @Success      302  "Found, Location holds the tarball URL"
// @Failure      404  {object}  errorBody
// @Router       /download/{package_id}/{filename} [get]
// Download handles GET /download/:package_id/:filename
func (h *Handler) Download(c *gin.Context) {
	target, err := h.downloader.Resolve(c.Request.Context(), c.Param("package_id"), c.Param("filename"))
	if err != nil {
		renderError(c, err)
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusOK, DownloadResponse{OK: true, URL: target.URL})
		return
	}
	c.Redirect(http.StatusFound, target.URL)
}

// wantsJSON reports whether the client explicitly asked for JSON; a bare
// */* still gets the redirect.
func wantsJSON(c *gin.Context) bool {
	return strings.Contains(strings.ToLower(c.GetHeader("Accept")), "json")
}
