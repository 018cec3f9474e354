// internal/socket/qr.go
package socket

import (
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
)

// RenderQR draws a pairing code on the operator's terminal. Purely
// presentational; nothing is consumed back.
func RenderQR(code string) {
	RenderQRTo(os.Stdout, code)
}

// RenderQRTo draws a pairing code to w.
func RenderQRTo(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
