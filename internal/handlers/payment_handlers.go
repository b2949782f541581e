package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"flick_kiosk/internal/models"
	"flick_kiosk/internal/services"
)

// PaymentHandler drives the payment flow for the display shell: checkout
// opens a session, the qr/student-id endpoints bind a payment request and
// open the status channel, and cancel/reset are the exit paths back to the
// catalog.
type PaymentHandler struct {
	payments  *services.PaymentService
	client    *services.FlickClient
	cart      *services.CartService
	channel   *services.StatusChannel
	countdown *services.CountdownDriver
	logger    *zap.SugaredLogger
}

func NewPaymentHandler(
	payments *services.PaymentService,
	client *services.FlickClient,
	cart *services.CartService,
	channel *services.StatusChannel,
	countdown *services.CountdownDriver,
	logger *zap.SugaredLogger,
) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		client:    client,
		cart:      cart,
		channel:   channel,
		countdown: countdown,
		logger:    logger,
	}
}

// Checkout snapshots the cart, places the order and opens a payment session
// with the default countdown window armed.
func (h *PaymentHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.cart.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snapshot.Items) == 0 {
		return services.ErrEmptyCart
	}

	orderID, err := h.client.CreateOrder(ctx, snapshot.Items)
	if err != nil {
		return err
	}

	h.payments.CreatePayment(orderID)
	h.countdown.Start()
	h.logger.Infow("payment session opened", "order_id", orderID, "total", snapshot.Total)
	return c.JSON(http.StatusOK, h.sessionResponse())
}

// CreateQrRequest opens a QR payment request for the active order and starts
// the status feed for it.
func (h *PaymentHandler) CreateQrRequest(c echo.Context) error {
	sess := h.payments.Session()
	if sess.OrderID == nil || !sess.IsActive {
		return echo.NewHTTPError(http.StatusConflict, "no order is awaiting payment")
	}
	if h.payments.HasRequestFor(models.RequestMethodQRCode) {
		return echo.NewHTTPError(http.StatusConflict, "a QR payment request is already open")
	}

	req, err := h.client.CreateQrRequest(c.Request().Context(), *sess.OrderID)
	if err != nil {
		return err
	}

	h.payments.SetPaymentRequest(req.ID, req.Token, req.Status, models.RequestMethodQRCode, req.ExpiresAt)
	h.channel.Connect(req.ID)
	return c.JSON(http.StatusOK, h.sessionResponse())
}

// CreateStudentIDRequest opens a student-number payment request. The entry is
// validated before any network call.
func (h *PaymentHandler) CreateStudentIDRequest(c echo.Context) error {
	var body StudentIDRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := services.ValidateStudentID(body.StudentID); err != nil {
		return err
	}

	sess := h.payments.Session()
	if sess.OrderID == nil || !sess.IsActive {
		return echo.NewHTTPError(http.StatusConflict, "no order is awaiting payment")
	}
	if h.payments.HasRequestFor(models.RequestMethodStudentID) {
		return echo.NewHTTPError(http.StatusConflict, "a student-id payment request is already open")
	}

	req, err := h.client.CreateStudentIDRequest(c.Request().Context(), *sess.OrderID, body.StudentID)
	if err != nil {
		return err
	}

	h.payments.SetPaymentRequest(req.ID, req.Token, req.Status, models.RequestMethodStudentID, req.ExpiresAt)
	h.channel.Connect(req.ID)
	return c.JSON(http.StatusOK, h.sessionResponse())
}

// SwitchMethod abandons the bound request and re-arms the session so the
// customer can pick the other payment method. The countdown keeps running.
func (h *PaymentHandler) SwitchMethod(c echo.Context) error {
	h.channel.Close()
	h.payments.ResetPaymentRequest()
	return c.JSON(http.StatusOK, h.sessionResponse())
}

// Cancel abandons the payment. The backend cancel is best effort: its
// failure is reported but local teardown always completes so the kiosk
// returns to a usable state.
func (h *PaymentHandler) Cancel(c echo.Context) error {
	sess := h.payments.Session()

	h.payments.CancelPayment()
	h.channel.Close()
	h.countdown.Stop()

	serverAck := true
	if sess.OrderID != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := h.client.CancelOrder(ctx, *sess.OrderID); err != nil {
			serverAck = false
			h.logger.Warnw("server-side order cancel failed", "order_id", *sess.OrderID, "err", err)
		}
	}

	h.payments.ResetPayment()
	if err := h.cart.Clear(c.Request().Context()); err != nil {
		h.logger.Warnw("cart clear after cancel failed", "err", err)
	}
	return c.JSON(http.StatusOK, CancelResponse{ServerAck: serverAck})
}

// Reset is the exit point after a completed handoff or when the customer
// backs out to the catalog.
func (h *PaymentHandler) Reset(c echo.Context) error {
	h.channel.Close()
	h.countdown.Stop()
	h.payments.ResetPayment()
	return c.NoContent(http.StatusNoContent)
}

// GetSession returns the current session with the channel state attached.
func (h *PaymentHandler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessionResponse())
}

// QRImage renders the bound request code as a PNG for the display.
func (h *PaymentHandler) QRImage(c echo.Context) error {
	sess := h.payments.Session()
	png, err := services.RenderRequestCode(sess.RequestCode, 256)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no payment request to render")
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// ReconnectChannel reopens the status feed for the bound request. Serves
// both the payment screen remount after a restart and the manual retry once
// automatic reconnection has given up.
func (h *PaymentHandler) ReconnectChannel(c echo.Context) error {
	sess := h.payments.Session()
	if sess.RequestID == nil || !sess.IsActive {
		return echo.NewHTTPError(http.StatusConflict, "no payment request is awaiting status")
	}
	h.channel.Connect(*sess.RequestID)
	return c.JSON(http.StatusOK, h.sessionResponse())
}

func (h *PaymentHandler) sessionResponse() SessionResponse {
	return SessionResponse{
		PaymentSession: h.payments.Session(),
		ChannelState:   h.channel.State(),
	}
}
