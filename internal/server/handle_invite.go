package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// InviteURL is the link a guest opens to join roomID.
func InviteURL(publicURL, roomID string) string {
	return strings.TrimRight(publicURL, "/") + "/room/" + roomID
}

// handleInvite renders the room's invite link as a PNG QR code.
func handleInvite(logger *slog.Logger, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := roomFrom(r).ID

		png, err := qrcode.Encode(InviteURL(publicURL, roomID), qrcode.Medium, qrSize)
		if err != nil {
			logger.Error("qr generation failed", "room_id", roomID, "error", err)
			writeError(w, http.StatusInternalServerError, "qr generation failed")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(png)
	}
}
