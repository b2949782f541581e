package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"flick_kiosk/internal/services"
)

type CatalogHandler struct {
	catalog *services.CatalogService
}

func NewCatalogHandler(catalog *services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func (h *CatalogHandler) ListProducts(c echo.Context) error {
	products, err := h.catalog.Products(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, products)
}

// RefreshCatalog drops the cached catalog; the next list hits the backend.
func (h *CatalogHandler) RefreshCatalog(c echo.Context) error {
	h.catalog.Refresh(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
