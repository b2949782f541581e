package handlers

import (
	"flick_kiosk/internal/models"
	"flick_kiosk/internal/services"
)

// SessionResponse is the payment screen's view of the session: the persisted
// state plus the live channel state.
type SessionResponse struct {
	models.PaymentSession
	ChannelState services.ChannelState `json:"channel_state"`
}

type AddItemRequest struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

type StudentIDRequest struct {
	StudentID string `json:"student_id"`
}

type RegisterRequest struct {
	Code string `json:"code"`
}

type CancelResponse struct {
	// ServerAck is false when the backend cancel call failed; local teardown
	// happened regardless.
	ServerAck bool `json:"server_ack"`
}
