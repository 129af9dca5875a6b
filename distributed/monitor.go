package distributed

import (
	"fmt"

	asyncoro "github.com/joeycumines/go-asyncoro"
)

func init() {
	RegisterType(remoteMonitorSignal{})
}

// remoteMonitorSignal is the wire form of asyncoro.MonitorSignal: Coro
// itself cannot cross the wire, so CoroName carries the name the notified
// coroutine is exposed under on the receiving node, and Location the node
// the watched coroutine ran on.
type remoteMonitorSignal struct {
	CoroName string
	Location Location
	Value    any
	ErrText  string
}

// MonitorRemote registers target (a locally exposed coroutine name on the
// peer at loc) to receive a MonitorSignal-shaped mailbox message whenever
// watched terminates, the networked equivalent of Coro.Monitor. Grounded
// on asyncoro.py's cross-node monitor notification, including its
// fallback to a lossy string representation when the terminating
// coroutine's result isn't a registered, serializable type.
func (n *Node) MonitorRemote(watched *asyncoro.Coro, loc Location, target string) {
	watched.Monitor(n.localMonitorRelay(watched, loc, target))
}

// localMonitorRelay spawns a tiny daemon coroutine whose only job is to
// wait on watched's monitor signal and forward it to the remote target,
// since Coro.Monitor only notifies local *Coro values.
func (n *Node) localMonitorRelay(watched *asyncoro.Coro, loc Location, target string) *asyncoro.Coro {
	relay, _ := n.sched.Spawn("", true, func(ctx *asyncoro.Context) (any, error) {
		msg, err := ctx.Receive(asyncoro.NoTimeout, nil)
		if err != nil {
			return nil, err
		}
		sig, ok := msg.(asyncoro.MonitorSignal)
		if !ok {
			return nil, fmt.Errorf("asyncoro/distributed: unexpected monitor payload")
		}
		wire := remoteMonitorSignal{
			CoroName: target,
			Location: n.self,
			Value:    serializeLossy(sig.Value),
		}
		if sig.Err != nil {
			wire.ErrText = sig.Err.Error()
		}
		n.enqueue(loc, outboundJob{kind: "monitor", payload: wire})
		return nil, nil
	})
	return relay
}

// serializeLossy returns v unchanged if it can round-trip through the
// shared codec (i.e. its concrete type was registered via RegisterType),
// and the name of its type otherwise - asyncoro.py does the same when a
// monitored coroutine's result isn't picklable on the receiving end.
func serializeLossy(v any) any {
	if v == nil {
		return nil
	}
	c := newCodec()
	if _, err := c.encode(v); err != nil {
		return fmt.Sprintf("%T", v)
	}
	return v
}

// handleMonitorSignal is invoked by Node.dispatch when an inbound "monitor"
// request arrives, delivering a reconstructed MonitorSignal-like mailbox
// message to the local coroutine registered under wire.CoroName.
func (n *Node) handleMonitorSignal(wire remoteMonitorSignal) error {
	n.mu.RLock()
	c, ok := n.exposed[wire.CoroName]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("asyncoro/distributed: unknown monitor target %q", wire.CoroName)
	}
	var err error
	if wire.ErrText != "" {
		err = fmt.Errorf("%s", wire.ErrText)
	}
	c.Deliver(asyncoro.MonitorSignal{Value: wire.Value, Err: err})
	return nil
}
