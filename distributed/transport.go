package distributed

import (
	"fmt"

	asyncoro "github.com/joeycumines/go-asyncoro"
)

// request is one TCP request/reply envelope exchanged between nodes,
// grounded on asyncoro.py's _NetRequest: a request kind name, the sender's
// own location and auth token, and a gob payload. Source/Auth let a
// recipient reject anything from a peer it hasn't authenticated (or whose
// token no longer matches what the discovery handshake established).
type request struct {
	Kind    string
	Source  Location
	Auth    string
	Payload []byte
}

func init() {
	RegisterType(request{})
}

// sendRequest encodes req with the shared codec and writes it as one
// length-prefixed AsyncSocket frame.
func sendRequest(ctx *asyncoro.Context, sock *asyncoro.AsyncSocket, c *codec, source Location, auth, kind string, payload any) error {
	body, err := c.encode(payload)
	if err != nil {
		return err
	}
	req := request{Kind: kind, Source: source, Auth: auth, Payload: body}
	wire, err := c.encode(req)
	if err != nil {
		return err
	}
	return sock.SendMessage(ctx, wire)
}

// recvRequest reads one frame and decodes it as a request envelope.
func recvRequest(ctx *asyncoro.Context, sock *asyncoro.AsyncSocket, c *codec) (*request, error) {
	wire, err := sock.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	if wire == nil {
		return nil, fmt.Errorf("asyncoro/distributed: connection closed before a request arrived")
	}
	decoded, err := c.decode(wire)
	if err != nil {
		return nil, err
	}
	req, ok := decoded.(request)
	if !ok {
		return nil, fmt.Errorf("asyncoro/distributed: unexpected request envelope type")
	}
	return &req, nil
}
