package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
)

// IsTerminal reports whether the session cannot return to PENDING
// without creating a new payment request.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusExpired
}

type RequestMethod string

const (
	RequestMethodQRCode    RequestMethod = "QR_CODE"
	RequestMethodStudentID RequestMethod = "STUDENT_ID"
)

// PaymentSession is the single in-progress payment on this kiosk.
// It is persisted as one row so an active countdown survives a restart.
// RequestCode is opaque: it is only rendered as a QR image or echoed back,
// never parsed.
type PaymentSession struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	OrderID          *int64        `json:"order_id"`
	RequestID        *int64        `json:"request_id"`
	RequestCode      string        `gorm:"type:varchar(255)" json:"request_code"`
	RequestMethod    RequestMethod `gorm:"type:varchar(20)" json:"request_method"`
	ExpiresAt        *time.Time    `json:"expires_at"`
	RemainingSeconds int           `json:"remaining_seconds"`
	IsActive         bool          `gorm:"default:false" json:"is_active"`
	Status           PaymentStatus `gorm:"type:varchar(20)" json:"status"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
