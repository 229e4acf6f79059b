package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebsocketDialer opens channels with gorilla/websocket. The credential
// travels in the URL, so no extra handshake headers are sent.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake: status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "websocket dial")
	}
	return conn, nil
}
