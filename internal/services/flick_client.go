package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flick_kiosk/internal/models"
)

// Error codes returned by the Flick Place API.
const (
	CodeOrderNotFound      = "ORDER_NOT_FOUND"
	CodeOrderNotPending    = "ORDER_NOT_PENDING"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeBoothNotFound      = "BOOTH_NOT_FOUND"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeProductNotFound    = "PRODUCT_NOT_FOUND"
	CodeProductUnavailable = "PRODUCT_UNAVAILABLE"
)

// RecoveryAction tells the display shell what to offer after a failed call:
// retry in place, or abandon the order and return to the catalog.
type RecoveryAction string

const (
	RecoveryRetry           RecoveryAction = "RETRY"
	RecoveryReturnToCatalog RecoveryAction = "RETURN_TO_CATALOG"
)

// APIError is a decoded Flick Place error body.
type APIError struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"status"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flick api error %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

var userMessages = map[string]string{
	CodeOrderNotFound:      "This order no longer exists. Please start over.",
	CodeOrderNotPending:    "This order is already being processed. Please start over.",
	CodeUserNotFound:       "No student matches that number. Please check and try again.",
	CodeBoothNotFound:      "This booth is not registered. Please call staff.",
	CodeInsufficientStock:  "One of the selected products just sold out.",
	CodeProductNotFound:    "One of the selected products is no longer listed.",
	CodeProductUnavailable: "One of the selected products is currently unavailable.",
}

// UserMessage returns the display-shell message for this error.
func (e *APIError) UserMessage() string {
	if msg, ok := userMessages[e.Code]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// Recovery classifies the error into the action the shell should offer.
// An unusable order forces the customer back to the catalog; everything else
// is retriable in place.
func (e *APIError) Recovery() RecoveryAction {
	switch e.Code {
	case CodeOrderNotFound, CodeOrderNotPending:
		return RecoveryReturnToCatalog
	default:
		return RecoveryRetry
	}
}

// ErrInvalidStudentID is returned before any network call when the kiosk
// entry does not match the student number format.
var ErrInvalidStudentID = errors.New("student id must be 4 digits: grade 1-9, room 1-9, number 01-99")

// ValidateStudentID checks the 4-digit kiosk entry: digit 1 is the grade
// (1-9), digit 2 the room (1-9), digits 3-4 the student number (01-99).
func ValidateStudentID(id string) error {
	if len(id) != 4 {
		return ErrInvalidStudentID
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ErrInvalidStudentID
		}
	}
	if id[0] == '0' || id[1] == '0' {
		return ErrInvalidStudentID
	}
	if id[2] == '0' && id[3] == '0' {
		return ErrInvalidStudentID
	}
	return nil
}

// TokenSource supplies the bearer credential attached to every API call and
// absorbs the global sign-out that a 401 anywhere forces.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	HandleUnauthorized()
}

// OrderItem is one order line sent to the backend.
type OrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// PaymentRequest is the backend's record correlating an order, a method and
// an opaque code, with an absolute expiry.
type PaymentRequest struct {
	ID        int64                `json:"id"`
	Token     string               `json:"token"`
	Status    models.PaymentStatus `json:"status"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

// Product is a catalog entry as served by the backend.
type Product struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	ImageURL  string `json:"imageUrl"`
	Available bool   `json:"available"`
}

// FlickClient talks to the Flick Place order/payment API.
type FlickClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.SugaredLogger
}

func NewFlickClient(baseURL string, tokens TokenSource, logger *zap.SugaredLogger) *FlickClient {
	return &FlickClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

// CreateOrder places an order for the given cart lines and returns the order
// id. An idempotency key guards against double submission on flaky links.
func (c *FlickClient) CreateOrder(ctx context.Context, items []models.CartItem) (int64, error) {
	lines := make([]OrderItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	headers := map[string]string{"X-Idempotency-Key": uuid.NewString()}
	if err := c.post(ctx, "/orders", map[string]interface{}{"items": lines}, headers, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// CreateQrRequest opens a QR payment request for the order.
func (c *FlickClient) CreateQrRequest(ctx context.Context, orderID int64) (*PaymentRequest, error) {
	var resp PaymentRequest
	body := map[string]interface{}{"orderId": orderID}
	if err := c.post(ctx, "/payments/qr", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateStudentIDRequest opens a student-number payment request. The id is
// validated locally; an invalid entry never reaches the network.
func (c *FlickClient) CreateStudentIDRequest(ctx context.Context, orderID int64, studentID string) (*PaymentRequest, error) {
	if err := ValidateStudentID(studentID); err != nil {
		return nil, err
	}
	var resp PaymentRequest
	body := map[string]interface{}{"orderId": orderID, "studentId": studentID}
	if err := c.post(ctx, "/payments/student-id", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder asks the backend to cancel the order. Best effort: callers log
// failures but tear down local state regardless, so the kiosk always returns
// to a usable screen.
func (c *FlickClient) CancelOrder(ctx context.Context, orderID int64) error {
	return c.post(ctx, fmt.Sprintf("/orders/%d/cancel", orderID), nil, nil, nil)
}

// GetProducts fetches the booth catalog.
func (c *FlickClient) GetProducts(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return nil, err
	}
	var products []Product
	if err := c.do(req, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *FlickClient) post(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c *FlickClient) do(req *http.Request, out interface{}) error {
	if c.tokens != nil {
		token, err := c.tokens.Token(req.Context())
		if err != nil {
			return fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.tokens != nil {
			c.tokens.HandleUnauthorized()
		}
		return &APIError{Code: "UNAUTHORIZED", HTTPStatus: resp.StatusCode, Message: "kiosk session rejected"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "UNKNOWN"
			apiErr.Message = resp.Status
		}
		apiErr.HTTPStatus = resp.StatusCode
		c.logger.Warnw("flick api call failed",
			"path", req.URL.Path, "code", apiErr.Code, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
