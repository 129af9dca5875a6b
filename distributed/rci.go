package distributed

import (
	"fmt"
	"net"

	asyncoro "github.com/joeycumines/go-asyncoro"
)

func init() {
	RegisterType(rciCall{})
	RegisterType(rciDeliver{})
	RegisterType(rciSend{})
	RegisterType(locateCoroRequest{})
	RegisterType(runRCIRequest{})
}

// rciCall is the payload of a "call" request: invoke a named method
// exposed by the remote Node's RegisterMethod and wait for its reply,
// grounded on asyncoro.py's remote coroutine invocation (RCI) protocol.
type rciCall struct {
	Method string
	Args   any
}

// rciDeliver is the payload of a "deliver" request: drop a value into a
// remote coroutine's mailbox, the networked form of Context.Send.
type rciDeliver struct {
	Target string
	Value  any
}

// rciSend is the payload of a "send" request: publish a value on a remote
// node's AsyncChannel.
type rciSend struct {
	Target string
	Sender string
	Value  any
}

// locateCoroRequest is the payload of a "locate_coro"/"locate_channel"
// request: does the target node currently expose a coroutine/channel
// under Name.
type locateCoroRequest struct {
	Name string
}

// runRCIRequest is the payload of a "run_rci" request: construct a
// coroutine at the target node from the constructor registered under Name.
type runRCIRequest struct {
	Name string
	Args any
}

// RemoteCoro is a local proxy for a coroutine exposed by name on a remote
// node, grounded on asyncoro.py's _RemoteCoro.
type RemoteCoro struct {
	node   *Node
	loc    Location
	target string
}

// NewRemoteCoro builds a proxy addressing the coroutine registered as
// target on the node at loc.
func (n *Node) NewRemoteCoro(loc Location, target string) *RemoteCoro {
	return &RemoteCoro{node: n, loc: loc, target: target}
}

// Send delivers value to the remote coroutine's mailbox, fire-and-forget,
// batched through the node's outbox. Unlike Deliver, Send does not wait
// for the remote side to acknowledge receipt.
func (r *RemoteCoro) Send(value any) {
	r.node.enqueue(r.loc, outboundJob{kind: "deliver", payload: rciDeliver{Target: r.target, Value: value}})
}

// Deliver delivers value to the remote coroutine's mailbox and blocks until
// the remote node ACKs it, returning 0 on success - the awaited counterpart
// to Send, grounded on the original's `deliver(msg) -> 0` RCI call.
func (r *RemoteCoro) Deliver(ctx *asyncoro.Context, value any) (int, error) {
	sock, err := asyncoro.DialContext(ctx, r.loc.String())
	if err != nil {
		return -1, err
	}
	defer sock.Close()
	req := rciDeliver{Target: r.target, Value: value}
	if err := r.node.sendOwnRequest(ctx, sock, "deliver", req); err != nil {
		return -1, err
	}
	reply, err := recvRequest(ctx, sock, r.node.codec)
	if err != nil {
		return -1, err
	}
	decoded, err := r.node.codec.decode(reply.Payload)
	if err != nil {
		return -1, err
	}
	if errText, ok := decoded.(string); ok && errText != "" {
		return -1, fmt.Errorf("asyncoro/distributed: deliver to %q: %s", r.target, errText)
	}
	return 0, nil
}

// Call invokes method synchronously on the remote node and returns its
// reply, bypassing the outbox since the caller needs the result
// immediately rather than a fire-and-forget batch.
func (r *RemoteCoro) Call(ctx *asyncoro.Context, method string, args any) (any, error) {
	sock, err := asyncoro.DialContext(ctx, r.loc.String())
	if err != nil {
		return nil, err
	}
	defer sock.Close()
	if err := r.node.sendOwnRequest(ctx, sock, "call", rciCall{Method: method, Args: args}); err != nil {
		return nil, err
	}
	reply, err := recvRequest(ctx, sock, r.node.codec)
	if err != nil {
		return nil, err
	}
	return r.node.codec.decode(reply.Payload)
}

// RemoteChannel is a local proxy for an AsyncChannel exposed by name on a
// remote node, grounded on asyncoro.py's _RemoteChannel.
type RemoteChannel struct {
	node   *Node
	loc    Location
	target string
}

// NewRemoteChannel builds a proxy addressing the channel registered as
// target on the node at loc.
func (n *Node) NewRemoteChannel(loc Location, target string) *RemoteChannel {
	return &RemoteChannel{node: n, loc: loc, target: target}
}

// Send publishes value on the remote channel, batched through the node's
// outbox.
func (r *RemoteChannel) Send(sender string, value any) {
	r.node.enqueue(r.loc, outboundJob{kind: "send", payload: rciSend{Target: r.target, Sender: sender, Value: value}})
}

// LocateCoro asks the node at loc whether it currently exposes a
// coroutine named name, returning a RemoteCoro proxy if so.
func (n *Node) LocateCoro(ctx *asyncoro.Context, loc Location, name string) (*RemoteCoro, error) {
	sock, err := asyncoro.DialContext(ctx, loc.String())
	if err != nil {
		return nil, err
	}
	defer sock.Close()
	if err := n.sendOwnRequest(ctx, sock, "locate_coro", locateCoroRequest{Name: name}); err != nil {
		return nil, err
	}
	reply, err := recvRequest(ctx, sock, n.codec)
	if err != nil {
		return nil, err
	}
	decoded, err := n.codec.decode(reply.Payload)
	if err != nil {
		return nil, err
	}
	if errText, ok := decoded.(string); ok && errText != "" {
		return nil, fmt.Errorf("asyncoro/distributed: locate_coro %q: %s", name, errText)
	}
	return n.NewRemoteCoro(loc, name), nil
}

// LocateChannel asks the node at loc whether it currently exposes a
// channel named name, returning a RemoteChannel proxy if so.
func (n *Node) LocateChannel(ctx *asyncoro.Context, loc Location, name string) (*RemoteChannel, error) {
	sock, err := asyncoro.DialContext(ctx, loc.String())
	if err != nil {
		return nil, err
	}
	defer sock.Close()
	if err := n.sendOwnRequest(ctx, sock, "locate_channel", locateCoroRequest{Name: name}); err != nil {
		return nil, err
	}
	reply, err := recvRequest(ctx, sock, n.codec)
	if err != nil {
		return nil, err
	}
	decoded, err := n.codec.decode(reply.Payload)
	if err != nil {
		return nil, err
	}
	if errText, ok := decoded.(string); ok && errText != "" {
		return nil, fmt.Errorf("asyncoro/distributed: locate_channel %q: %s", name, errText)
	}
	return n.NewRemoteChannel(loc, name), nil
}

// RunRCI constructs a coroutine at the node addressed by loc from the
// constructor it registered under name, returning a RemoteCoro proxy for
// the coroutine it spawned.
func (n *Node) RunRCI(ctx *asyncoro.Context, loc Location, name string, args any) (*RemoteCoro, error) {
	sock, err := asyncoro.DialContext(ctx, loc.String())
	if err != nil {
		return nil, err
	}
	defer sock.Close()
	if err := n.sendOwnRequest(ctx, sock, "run_rci", runRCIRequest{Name: name, Args: args}); err != nil {
		return nil, err
	}
	reply, err := recvRequest(ctx, sock, n.codec)
	if err != nil {
		return nil, err
	}
	decoded, err := n.codec.decode(reply.Payload)
	if err != nil {
		return nil, err
	}
	coroName, ok := decoded.(string)
	if !ok {
		return nil, fmt.Errorf("asyncoro/distributed: run_rci %q: bad reply", name)
	}
	return n.NewRemoteCoro(loc, coroName), nil
}

func resolveUDP(addr string) (*net.UDPAddr, error) {
	a, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("asyncoro/distributed: resolve broadcast addr: %w", err)
	}
	return a, nil
}
