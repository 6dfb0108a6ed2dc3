package packages

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/db/models"
)

// @Summary      Show package
// @Description  Returns a package and its published versions, newest first.
// @Tags         Packages
// @Produce      json
// @Param        package_id  path  string  true  "Package name"
// @Success      200  {object}  services.PackageDetail
// @Failure      404  {object}  errorBody
// @Router       /api/v1/packages/{package_id} [get]
// Show handles GET /api/v1/packages/:package_id
func (h *Handler) Show(c *gin.Context) {
	detail, err := h.catalog.Show(c.Request.Context(), c.Param("package_id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateRequest is the body of PUT /api/v1/packages/:package_id.
type UpdateRequest struct {
	Package struct {
		Name string `json:"name"`
	} `json:"package"`
}

// UpdateResponse wraps the package returned by an update.
type UpdateResponse struct {
	Package models.EncodablePackage `json:"package"`
}

// @Summary      Update package
// @Description  Accepts a rename request. Renames are not applied; the package is returned unchanged.
// @Tags         Packages
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        package_id  path  string         true  "Package name"
// @Param        body        body  UpdateRequest  true  "New package name"
// @Success      200  {object}  UpdateResponse
// @Failure      401  {object}  errorBody
// @Failure      404  {object}  errorBody
// @Router       /api/v1/packages/{package_id} [put]
// Update handles PUT /api/v1/packages/:package_id
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusBadRequest, "invalid update body: "+err.Error())
		return
	}

	pkg, err := h.catalog.Update(c.Request.Context(), c.GetHeader("Authorization"), c.Param("package_id"), req.Package.Name)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, UpdateResponse{Package: *pkg})
}
