package signal

import (
	"fmt"

	"screenmirror/relay/internal/logging"

	"github.com/gorilla/websocket"
)

// Dial connects to a signaling server. The caller Binds the returned socket
// and then starts its Run loop.
func Dial(url string, log *logging.Logger) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return newSocket("client", conn, log), nil
}
