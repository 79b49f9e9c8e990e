package platform

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// isRetryableCloseError classifies a websocket read/write error the
// way the teacher's gRPC stream wrapper classifies stream errors
// (goclient/client.go isRetryableStreamError): a normal/going-away
// close or an explicit protocol violation is fatal for this
// connection attempt but not for the client overall — the reconnect
// loop always retries unless the client itself has been stopped. This
// function exists to decide log severity and backoff reset, not
// whether to retry at all.
func isRetryableCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return false
	}
	return true
}
