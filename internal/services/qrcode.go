package services

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderRequestCode encodes the opaque payment request code as a PNG for the
// kiosk display. The code is never interpreted, only rendered.
func RenderRequestCode(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, errors.New("no request code to render")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
