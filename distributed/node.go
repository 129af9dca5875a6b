package distributed

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	asyncoro "github.com/joeycumines/go-asyncoro"
)

// Node is the networked peer of a Scheduler: it owns discovery, the
// authenticated peer table, admission control, the outbound batching
// queue, and the table of locally exposed coroutines/channels that remote
// peers may invoke, grounded on asyncoro.py's AsynCoro class.
type Node struct {
	sched  *asyncoro.Scheduler
	self   Location
	name   string
	secret []byte
	codec  *codec

	peers     *peerTable
	discovery *discovery
	admission *admission
	outbox    *outbox
	listener  *asyncoro.Listener

	rciSeq int64

	mu           sync.RWMutex
	exposed      map[string]*asyncoro.Coro // name -> local coroutine reachable by RCI
	methods      map[string]rciMethod      // method name -> local handler
	chans        map[string]*asyncoro.AsyncChannel
	constructors map[string]rciConstructor
}

type rciMethod func(args any) (any, error)

// rciConstructor builds a fresh coroutine Body from run_rci's Args,
// grounded on asyncoro.py's registered RCI constructors.
type rciConstructor func(args any) (asyncoro.Body, error)

// NodeConfig configures a Node's identity and transport addresses.
type NodeConfig struct {
	Name    string
	Host    string
	UDPPort int
	TCPPort int
	Secret  []byte
}

// NewNode creates a Node bound to sched, starting its UDP discovery socket
// and TCP listener. The caller is responsible for spawning AcceptLoop and
// DiscoveryLoop as daemon coroutines once sched is running.
func NewNode(sched *asyncoro.Scheduler, cfg NodeConfig) (*Node, error) {
	self := Location{Host: cfg.Host, Port: cfg.TCPPort}
	disc, err := newDiscovery(cfg.UDPPort, cfg.Name, self, cfg.Secret)
	if err != nil {
		return nil, err
	}
	listener, err := asyncoro.Listen(sched, fmt.Sprintf("%s:%d", cfg.Host, cfg.TCPPort))
	if err != nil {
		_ = disc.close()
		return nil, err
	}
	n := &Node{
		sched:        sched,
		self:         self,
		name:         cfg.Name,
		secret:       cfg.Secret,
		codec:        newCodec(),
		peers:        newPeerTable(),
		discovery:    disc,
		admission:    newAdmission(),
		listener:     listener,
		exposed:      make(map[string]*asyncoro.Coro),
		methods:      make(map[string]rciMethod),
		chans:        make(map[string]*asyncoro.AsyncChannel),
		constructors: make(map[string]rciConstructor),
	}
	n.outbox = newOutbox(defaultOutboxConfig(), n.flushToPeer)
	return n, nil
}

// Location returns this node's advertised address.
func (n *Node) Location() Location { return n.self }

// Peers returns a snapshot of the currently known, authenticated peers.
func (n *Node) Peers() []*Peer { return n.peers.list() }

// Expose registers a local coroutine under name so remote peers may
// address it via RemoteCoro, mirroring asyncoro.py's register() call.
func (n *Node) Expose(name string, c *asyncoro.Coro) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exposed[name] = c
}

// ExposeChannel registers a local AsyncChannel for remote Send/Subscribe
// under name, returning a *asyncoro.DuplicateError if this Node already
// exposes a channel by that name.
func (n *Node) ExposeChannel(name string, ch *asyncoro.AsyncChannel) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.chans[name]; exists {
		return &asyncoro.DuplicateError{Name: name}
	}
	n.chans[name] = ch
	return nil
}

// RegisterMethod adds a named RCI handler invoked when a remote peer sends
// a "call" request for method.
func (n *Node) RegisterMethod(method string, fn rciMethod) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods[method] = fn
}

// RegisterConstructor adds a named coroutine constructor invoked when a
// remote peer sends a "run_rci" request for name.
func (n *Node) RegisterConstructor(name string, fn rciConstructor) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.constructors[name] = fn
}

// sendOwnRequest sends kind/payload to sock, stamping it with this node's
// own location and auth token - every outbound request goes through this
// so Source/Auth can never be forgotten at a call site.
func (n *Node) sendOwnRequest(ctx *asyncoro.Context, sock *asyncoro.AsyncSocket, kind string, payload any) error {
	return sendRequest(ctx, sock, n.codec, n.self, n.discovery.ownAuthToken(), kind, payload)
}

// verifyAuth rejects a request from a peer this node has not authenticated
// (via the "ping" handshake) or whose token no longer matches what that
// handshake established.
func (n *Node) verifyAuth(req *request) error {
	peer, ok := n.peers.get(req.Source)
	if !ok || peer.AuthToken != req.Auth {
		return &asyncoro.AuthFailureError{Peer: req.Source.String()}
	}
	return nil
}

// AcceptLoop accepts inbound TCP connections and dispatches one request
// each - asyncoro.py's requests are one-shot per connection rather than
// long-lived streams. Intended to run as a daemon coroutine's Body.
func (n *Node) AcceptLoop(ctx *asyncoro.Context) (any, error) {
	for {
		sock, err := n.listener.Accept(ctx)
		if err != nil {
			return nil, err
		}
		if !n.admission.allowConn(sock.RemoteAddr()) {
			_ = sock.Close()
			continue
		}
		if _, err := n.sched.Spawn("", true, func(ctx *asyncoro.Context) (any, error) {
			n.serveOne(ctx, sock)
			return nil, nil
		}); err != nil {
			_ = sock.Close()
		}
	}
}

func (n *Node) serveOne(ctx *asyncoro.Context, sock *asyncoro.AsyncSocket) {
	defer sock.Close()
	req, err := recvRequest(ctx, sock, n.codec)
	if err != nil {
		return
	}
	reply, err := n.dispatch(req)
	if err != nil {
		reply = err.Error()
	}
	_ = sendRequest(ctx, sock, n.codec, n.self, n.discovery.ownAuthToken(), "reply", reply)
}

func (n *Node) dispatch(req *request) (any, error) {
	decoded, err := n.codec.decode(req.Payload)
	if err != nil {
		return nil, err
	}

	// The "ping" handshake establishes trust itself (self-verified against
	// the claimed signature in its own payload); every other kind requires
	// an already-authenticated peer entry.
	if req.Kind == "ping" {
		return n.handlePingHandshake(decoded, req.Auth)
	}
	if err := n.verifyAuth(req); err != nil {
		return nil, err
	}

	switch req.Kind {
	case "call":
		call, ok := decoded.(rciCall)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad call payload")
		}
		n.mu.RLock()
		fn, ok := n.methods[call.Method]
		n.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: unknown method %q", call.Method)
		}
		return fn(call.Args)
	case "deliver":
		deliver, ok := decoded.(rciDeliver)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad deliver payload")
		}
		n.mu.RLock()
		c, ok := n.exposed[deliver.Target]
		n.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: unknown coroutine %q", deliver.Target)
		}
		c.Deliver(deliver.Value)
		return nil, nil
	case "send":
		send, ok := decoded.(rciSend)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad send payload")
		}
		n.mu.RLock()
		ch, ok := n.chans[send.Target]
		n.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: unknown channel %q", send.Target)
		}
		return nil, ch.Send(nil, send.Value)
	case "monitor":
		wire, ok := decoded.(remoteMonitorSignal)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad monitor payload")
		}
		return nil, n.handleMonitorSignal(wire)
	case "locate_coro":
		lookup, ok := decoded.(locateCoroRequest)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad locate_coro payload")
		}
		n.mu.RLock()
		_, exists := n.exposed[lookup.Name]
		n.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("asyncoro/distributed: no coroutine exposed as %q", lookup.Name)
		}
		return "", nil
	case "locate_channel":
		lookup, ok := decoded.(locateCoroRequest)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad locate_channel payload")
		}
		n.mu.RLock()
		_, exists := n.chans[lookup.Name]
		n.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("asyncoro/distributed: no channel exposed as %q", lookup.Name)
		}
		return "", nil
	case "run_rci":
		run, ok := decoded.(runRCIRequest)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: bad run_rci payload")
		}
		n.mu.RLock()
		ctor, ok := n.constructors[run.Name]
		n.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: unknown rci constructor %q", run.Name)
		}
		body, err := ctor(run.Args)
		if err != nil {
			return nil, err
		}
		coroName := fmt.Sprintf("%s-%d", run.Name, atomic.AddInt64(&n.rciSeq, 1))
		c, err := n.sched.Spawn(coroName, false, body)
		if err != nil {
			return nil, err
		}
		n.Expose(coroName, c)
		return coroName, nil
	case "ping":
		// unreachable: handled above before auth verification.
		return nil, fmt.Errorf("asyncoro/distributed: ping handled out of band")
	default:
		return nil, fmt.Errorf("asyncoro/distributed: unknown request kind %q", req.Kind)
	}
}

// handlePingHandshake completes one side of the two-way discovery
// handshake: the claimant's own signature self-verifies its Auth token
// (recipients that don't yet know a signature for this peer can still
// check it, since the claim and the proof travel together), after which
// the peer is recorded as authenticated and answered with this node's own
// handshake payload so the caller can authenticate us in turn.
func (n *Node) handlePingHandshake(decoded any, auth string) (any, error) {
	msg, ok := decoded.(pingMessage)
	if !ok {
		return nil, fmt.Errorf("asyncoro/distributed: bad ping payload")
	}
	if authToken(msg.Signature, n.secret) != auth {
		return nil, &asyncoro.AuthFailureError{Peer: msg.Location.String()}
	}
	n.peers.upsert(&Peer{
		Location:  msg.Location,
		Name:      msg.Name,
		Signature: msg.Signature,
		AuthToken: authToken(msg.Signature, n.secret),
		LastSeen:  time.Now(),
	})
	return pingMessage{Name: n.name, Location: n.self, Signature: n.discovery.signature}, nil
}

// handshakeWith dials loc and runs the two-way "ping" exchange: we send our
// own location/signature, the peer replies with its own, and each side
// ends up with the other's signature recorded (and thus able to compute
// the token it expects on future requests). Intended to run inside a
// coroutine spawned by ListenDiscovery upon meeting a new peer.
func (n *Node) handshakeWith(ctx *asyncoro.Context, loc Location) error {
	sock, err := asyncoro.DialContext(ctx, loc.String())
	if err != nil {
		return err
	}
	defer sock.Close()

	self := pingMessage{Name: n.name, Location: n.self, Signature: n.discovery.signature}
	if err := n.sendOwnRequest(ctx, sock, "ping", self); err != nil {
		return err
	}
	reply, err := recvRequest(ctx, sock, n.codec)
	if err != nil {
		return err
	}
	decoded, err := n.codec.decode(reply.Payload)
	if err != nil {
		return err
	}
	peerMsg, ok := decoded.(pingMessage)
	if !ok {
		return fmt.Errorf("asyncoro/distributed: bad ping reply")
	}
	n.peers.upsert(&Peer{
		Location:  peerMsg.Location,
		Name:      peerMsg.Name,
		Signature: peerMsg.Signature,
		AuthToken: authToken(peerMsg.Signature, n.secret),
		LastSeen:  time.Now(),
	})
	return nil
}

// flushToPeer spawns one daemon coroutine per batched job to perform the
// actual network send: AsyncSocket I/O only runs inside a coroutine's
// Context, so the outbox's own background flush timers cannot call it
// directly.
func (n *Node) flushToPeer(peer string, batch []outboundJob) {
	if _, ok := n.peers.get(locationFromKey(peer)); !ok {
		return
	}
	for _, job := range batch {
		job := job
		_, _ = n.sched.Spawn("", true, func(ctx *asyncoro.Context) (any, error) {
			sock, err := asyncoro.DialContext(ctx, peer)
			if err != nil {
				return nil, err
			}
			defer sock.Close()
			return nil, n.sendOwnRequest(ctx, sock, job.kind, job.payload)
		})
	}
}

// enqueue queues job for delivery to the peer at loc, batched by the
// outbox's per-peer flush policy.
func (n *Node) enqueue(loc Location, job outboundJob) {
	n.outbox.enqueue(loc.Key(), job)
}

// DiscoveryLoop periodically broadcasts this node's presence to
// broadcastAddr and records authenticated peers that reply, intended to
// run as a daemon coroutine's Body alongside a separate listener loop
// draining inbound pings via Listen.
func (n *Node) DiscoveryLoop(ctx *asyncoro.Context, broadcastAddr string, interval time.Duration) (any, error) {
	addr, err := resolveUDP(broadcastAddr)
	if err != nil {
		return nil, err
	}
	for {
		if err := n.discovery.broadcast(addr); err != nil {
			n.sched.Logger().Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Component: "discovery", Message: "broadcast failed", Err: err})
		}
		if _, err := ctx.Suspend(interval, nil); err != nil {
			return nil, err
		}
	}
}

// ListenDiscovery drains inbound pings, admitting at most the admission
// budget per sender, then spawns a coroutine to complete the authenticated
// TCP handshake for any location not already a known peer. Intended to run
// on its own goroutine (not a coroutine) since UDP receipt uses a plain
// blocking socket deadline, not the scheduler's Notifier.
func (n *Node) ListenDiscovery(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg, err := n.discovery.receive(time.Second)
		if err != nil {
			continue
		}
		if !n.admission.allowPing(msg.Location.String()) {
			continue
		}
		if _, known := n.peers.get(msg.Location); known {
			continue
		}
		loc := msg.Location
		_, _ = n.sched.Spawn("", true, func(ctx *asyncoro.Context) (any, error) {
			if err := n.handshakeWith(ctx, loc); err != nil {
				n.sched.Logger().Log(asyncoro.LogEntry{Level: asyncoro.LevelWarn, Component: "discovery", Message: "handshake failed", Err: err})
			}
			return nil, nil
		})
	}
}

func locationFromKey(key string) Location {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			var port int
			fmt.Sscanf(key[i+1:], "%d", &port)
			return Location{Host: key[:i], Port: port}
		}
	}
	return Location{Host: key}
}
