package packages

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/services"
	"github.com/srcpkg/registry/internal/validation"
)

// Publish metadata headers.
const (
	HeaderName       = "X-Package-Name"
	HeaderVersion    = "X-Package-Version"
	HeaderFeatures   = "X-Package-Features"
	HeaderDependency = "X-Package-Dependency"
)

// PublishResponse is the body of a successful publish.
type PublishResponse struct {
	OK      bool                    `json:"ok"`
	Package models.EncodablePackage `json:"package"`
}

// @Summary      Publish a package version
// @Description  Streams a gzip-compressed tarball to the blob store and registers the version in the package index. Metadata travels in X-Package-* headers.
// @Tags         Packages
// @Accept       application/x-tar
// @Produce      json
// @Security     Bearer
// @Param        X-Package-Name        header  string  true   "Package name"
// @Param        X-Package-Version     header  string  true   "Semantic version"
// @Param        X-Package-Features    header  string  false  "JSON object mapping feature names to the features they enable"
// @Param        X-Package-Dependency  header  string  false  "Dependencies as name|req|feat1,feat2, ';'-separated, repeatable"
// @Success      200  {object}  PublishResponse
// @Failure      400  {object}  errorBody
// @Failure      401  {object}  errorBody
// @Failure      403  {object}  errorBody
// @Failure      409  {object}  errorBody
// @Failure      413  {object}  errorBody
// @Failure      500  {object}  errorBody
// @Router       /api/v1/packages/new [put]
// Publish handles PUT /api/v1/packages/new
func (h *Handler) Publish(c *gin.Context) {
	features, err := validation.ParseFeatures(c.GetHeader(HeaderFeatures))
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, "invalid "+HeaderFeatures+" header: "+err.Error())
		return
	}
	deps, err := validation.ParseDependencies(c.Request.Header.Values(HeaderDependency))
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, "invalid "+HeaderDependency+" header: "+err.Error())
		return
	}

	// A request without the header (e.g. chunked) reports -1.
	contentLength := c.Request.ContentLength
	if c.GetHeader("Content-Length") == "" {
		contentLength = -1
	}

	pkg, err := h.publisher.Publish(c.Request.Context(), &services.PublishRequest{
		Credential:      c.GetHeader("Authorization"),
		Name:            c.GetHeader(HeaderName),
		Version:         c.GetHeader(HeaderVersion),
		Features:        features,
		Dependencies:    deps,
		ContentLength:   contentLength,
		ContentType:     c.GetHeader("Content-Type"),
		ContentEncoding: c.GetHeader("Content-Encoding"),
		Body:            c.Request.Body,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, PublishResponse{OK: true, Package: *pkg})
}
