package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"flick_kiosk/internal/services"
)

type CartHandler struct {
	cart *services.CartService
}

func NewCartHandler(cart *services.CartService) *CartHandler {
	return &CartHandler{cart: cart}
}

func (h *CartHandler) GetCart(c echo.Context) error {
	snapshot, err := h.cart.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (h *CartHandler) AddItem(c echo.Context) error {
	var req AddItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cart item")
	}
	if req.ProductID <= 0 || req.Quantity <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "product and quantity are required")
	}
	if err := h.cart.AddItem(c.Request().Context(), req.ProductID, req.Name, req.UnitPrice, req.Quantity); err != nil {
		return err
	}
	return h.GetCart(c)
}

func (h *CartHandler) UpdateItem(c echo.Context) error {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	var req UpdateItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	if err := h.cart.UpdateQuantity(c.Request().Context(), productID, req.Quantity); err != nil {
		return err
	}
	return h.GetCart(c)
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if err := h.cart.RemoveItem(c.Request().Context(), productID); err != nil {
		return err
	}
	return h.GetCart(c)
}

func (h *CartHandler) ClearCart(c echo.Context) error {
	if err := h.cart.Clear(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
