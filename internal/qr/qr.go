// ABOUTME: Renders raw QR payloads into PNG data URLs for observer dashboards
// ABOUTME: Thin wrapper over skip2/go-qrcode

package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// pngSize is the rendered image edge in pixels.
const pngSize = 256

// DataURL encodes the raw QR payload as a PNG data URL suitable for an
// <img> src on the observer dashboard.
func DataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, pngSize)
	if err != nil {
		return "", fmt.Errorf("encoding qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
