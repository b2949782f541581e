package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flick_kiosk/internal/models"
)

type stubTokens struct {
	token        string
	unauthorized int32
}

func (s *stubTokens) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s *stubTokens) HandleUnauthorized()                       { atomic.AddInt32(&s.unauthorized, 1) }

func newTestClient(url string, tokens TokenSource) *FlickClient {
	return NewFlickClient(url, tokens, zap.NewNop().Sugar())
}

func TestValidateStudentID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"1203", true},  // grade 1, room 2, number 03
		{"1299", true},  // number 99 is the upper bound
		{"9913", true},
		{"0203", false}, // grade 0
		{"1023", false}, // room 0
		{"1300", false}, // number 00
		{"12345", false},
		{"120", false},
		{"", false},
		{"12a3", false},
		{"-123", false},
	}

	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			err := ValidateStudentID(tc.id)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidStudentID)
			}
		})
	}
}

func TestCreateQrRequestBindsResponse(t *testing.T) {
	expiry := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments/qr", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 42, body["orderId"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":        7,
			"token":     "abc",
			"status":    "PENDING",
			"expiresAt": expiry.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, &stubTokens{token: "test-token"})
	req, err := client.CreateQrRequest(context.Background(), 42)

	require.NoError(t, err)
	assert.EqualValues(t, 7, req.ID)
	assert.Equal(t, "abc", req.Token)
	assert.Equal(t, models.PaymentStatusPending, req.Status)
	assert.True(t, expiry.Equal(req.ExpiresAt))
}

func TestErrorTaxonomyClassification(t *testing.T) {
	cases := []struct {
		code     string
		status   int
		recovery RecoveryAction
	}{
		{CodeOrderNotFound, http.StatusNotFound, RecoveryReturnToCatalog},
		{CodeOrderNotPending, http.StatusConflict, RecoveryReturnToCatalog},
		{CodeUserNotFound, http.StatusNotFound, RecoveryRetry},
		{CodeInsufficientStock, http.StatusConflict, RecoveryRetry},
		{CodeBoothNotFound, http.StatusNotFound, RecoveryRetry},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"code":    tc.code,
					"status":  tc.status,
					"message": "rejected",
				})
			}))
			defer srv.Close()

			client := newTestClient(srv.URL, &stubTokens{token: "t"})
			_, err := client.CreateQrRequest(context.Background(), 42)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.code, apiErr.Code)
			assert.Equal(t, tc.status, apiErr.HTTPStatus)
			assert.Equal(t, tc.recovery, apiErr.Recovery())
			assert.NotEmpty(t, apiErr.UserMessage())
		})
	}
}

func TestUndecodableErrorBodyFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>upstream broke</html>"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, &stubTokens{token: "t"})
	_, err := client.CreateQrRequest(context.Background(), 42)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "UNKNOWN", apiErr.Code)
	assert.Equal(t, RecoveryRetry, apiErr.Recovery())
}

func TestCreateStudentIDRequestValidatesBeforeNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, &stubTokens{token: "t"})
	_, err := client.CreateStudentIDRequest(context.Background(), 42, "0203")

	assert.ErrorIs(t, err, ErrInvalidStudentID)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits), "invalid ids never reach the network")
}

func TestUnauthorizedForcesSignOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &stubTokens{token: "stale"}
	client := newTestClient(srv.URL, tokens)
	err := client.CancelOrder(context.Background(), 42)

	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokens.unauthorized))
}

func TestCreateOrderSendsIdempotencyKeyAndLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))

		var body struct {
			Items []OrderItem `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Items, 2)
		assert.EqualValues(t, 11, body.Items[0].ProductID)
		assert.Equal(t, 3, body.Items[0].Quantity)

		json.NewEncoder(w).Encode(map[string]int64{"id": 42})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, &stubTokens{token: "t"})
	orderID, err := client.CreateOrder(context.Background(), []models.CartItem{
		{ProductID: 11, Name: "soda", UnitPrice: 1500, Quantity: 3},
		{ProductID: 12, Name: "waffle", UnitPrice: 3000, Quantity: 1},
	})

	require.NoError(t, err)
	assert.EqualValues(t, 42, orderID)
}

func TestCancelOrderSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/42/cancel", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"code": "INTERNAL", "message": "boom"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, &stubTokens{token: "t"})
	err := client.CancelOrder(context.Background(), 42)

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}
