// Package packages implements the registry's package HTTP handlers: catalog
// listing, the front-page summary, package detail, publish and download.
// Handlers only translate between HTTP and the services layer; every
// decision about validity, ownership and storage is made there.
package packages

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/middleware"
	"github.com/srcpkg/registry/internal/services"
)

// Catalog is the read side used by the handlers.
// *services.CatalogService implements it.
type Catalog interface {
	List(ctx context.Context, page, perPage int, prefix string) (*services.PackageList, error)
	Summary(ctx context.Context) (*services.Summary, error)
	Show(ctx context.Context, name string) (*services.PackageDetail, error)
	Update(ctx context.Context, credential, name, newName string) (*models.EncodablePackage, error)
}

// Publisher runs the publish saga. *services.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, req *services.PublishRequest) (*models.EncodablePackage, error)
}

// Downloader resolves download requests. *services.Downloader implements it.
type Downloader interface {
	Resolve(ctx context.Context, name, filename string) (*services.DownloadTarget, error)
}

// Handler serves the package routes.
type Handler struct {
	catalog    Catalog
	publisher  Publisher
	downloader Downloader
}

// NewHandler creates a Handler.
func NewHandler(catalog Catalog, publisher Publisher, downloader Downloader) *Handler {
	return &Handler{catalog: catalog, publisher: publisher, downloader: downloader}
}

// errorBody is the error envelope every failing route returns.
type errorBody struct {
	Errors []errorDetail `json:"errors"`
}

type errorDetail struct {
	Detail string `json:"detail"`
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, errorBody{Errors: []errorDetail{{Detail: detail}}})
}

// StatusFor maps a service error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, services.ErrValidationFailed),
		errors.Is(err, services.ErrUnknownDependency):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrOwnershipConflict):
		return http.StatusForbidden
	case errors.Is(err, services.ErrVersionAlreadyPublished):
		return http.StatusConflict
	case errors.Is(err, services.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// renderError writes err as the error envelope. Internal failures are logged
// with their cause and reported to the client without detail.
func renderError(c *gin.Context, err error) {
	status := StatusFor(err)

	var serr *services.Error
	if status == http.StatusInternalServerError || !errors.As(err, &serr) || serr.Internal() {
		slog.Error("request failed", "path", c.FullPath(), "request_id", middleware.RequestID(c), "error", err)
		_ = c.Error(err)
		abortWithDetail(c, http.StatusInternalServerError, "internal server error")
		return
	}

	abortWithDetail(c, status, serr.Message)
}
