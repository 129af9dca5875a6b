package asyncoro

import "sync"

// ChannelMessage is the envelope delivered to channel subscribers,
// carrying the sender's identity alongside the payload. Grounded on
// asyncoro.py's ChannelMessage.
type ChannelMessage struct {
	Channel string
	Sender  *Coro
	Value   any
}

// Transform optionally rewrites or filters a value before delivery; a nil
// error with ok=false drops the message for that subscriber.
type Transform func(msg ChannelMessage) (out any, ok bool, err error)

// AsyncChannel is a fire-and-forget publish/subscribe channel: Send
// returns immediately, delivering the (optionally transformed) value to
// every current subscriber's mailbox. A MinReceivers gate lets a sender
// wait until enough subscribers exist before the first Send. Grounded on
// asyncoro.py's AsyncChannel.
type AsyncChannel struct {
	name      string
	transform Transform

	mu          sync.Mutex
	subscribers map[int64]*Coro
	minReceiversEvent *Event
	minReceivers int
}

var (
	channelRegistryMu sync.Mutex
	channelRegistry   = make(map[string]*AsyncChannel)
)

// NewAsyncChannel creates a named channel. transform may be nil. Creation
// under a name already in use returns a *DuplicateError, mirroring
// Scheduler.Spawn's name uniqueness check for coroutines - channel names
// share a single process-wide table rather than one per Scheduler, since a
// channel is reachable independently of any particular coroutine's
// scheduler.
func NewAsyncChannel(name string, transform Transform) (*AsyncChannel, error) {
	channelRegistryMu.Lock()
	defer channelRegistryMu.Unlock()
	if _, exists := channelRegistry[name]; exists {
		return nil, &DuplicateError{Name: name}
	}
	ch := &AsyncChannel{
		name:              name,
		transform:         transform,
		subscribers:       make(map[int64]*Coro),
		minReceiversEvent: NewEvent(),
	}
	channelRegistry[name] = ch
	return ch, nil
}

// Subscribe registers c to receive future Sends.
func (ch *AsyncChannel) Subscribe(c *Coro) {
	ch.mu.Lock()
	ch.subscribers[c.id] = c
	met := len(ch.subscribers) >= ch.minReceivers
	ch.mu.Unlock()
	if met {
		ch.minReceiversEvent.Set()
	}
}

// Unsubscribe removes c from the subscriber set.
func (ch *AsyncChannel) Unsubscribe(c *Coro) {
	ch.mu.Lock()
	delete(ch.subscribers, c.id)
	ch.mu.Unlock()
}

// SetMinReceivers configures how many subscribers must be present before
// WaitForReceivers returns; if already met, it is signalled immediately.
func (ch *AsyncChannel) SetMinReceivers(n int) {
	ch.mu.Lock()
	ch.minReceivers = n
	met := len(ch.subscribers) >= n
	ch.mu.Unlock()
	if met {
		ch.minReceiversEvent.Set()
	} else {
		ch.minReceiversEvent.Clear()
	}
}

// WaitForReceivers blocks the calling coroutine until at least
// MinReceivers subscribers are registered.
func (ch *AsyncChannel) WaitForReceivers(ctx *Context) error {
	return ch.minReceiversEvent.Wait(ctx)
}

// Send delivers value to every current subscriber without blocking the
// sender. Sender may be nil for messages not originating from a
// coroutine (e.g. the distributed layer relaying a remote publish).
func (ch *AsyncChannel) Send(sender *Coro, value any) error {
	ch.mu.Lock()
	subs := make([]*Coro, 0, len(ch.subscribers))
	for _, s := range ch.subscribers {
		subs = append(subs, s)
	}
	ch.mu.Unlock()

	for _, sub := range subs {
		out := value
		if ch.transform != nil {
			v, ok, err := ch.transform(ChannelMessage{Channel: ch.name, Sender: sender, Value: value})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			out = v
		}
		sub.deliver(ChannelMessage{Channel: ch.name, Sender: sender, Value: out})
	}
	return nil
}

// syncRecipient is a coroutine currently parked in Receive, waiting for a
// direct handoff.
type syncRecipient struct {
	coro *Coro
	slot chan any
}

// SyncChannel has no queue: Deliver fans a value out, atomically, to every
// coroutine currently parked in Receive - a synchronous broadcast handoff
// rather than a mailbox drop. A MinReceivers gate withholds delivery (and
// reports failure) until that many recipients are waiting at once.
// Grounded on asyncoro.py's SyncChannel and its min_receivers constructor
// argument.
type SyncChannel struct {
	mu           sync.Mutex
	recipients   []*syncRecipient
	minReceivers int
}

func NewSyncChannel() *SyncChannel { return &SyncChannel{} }

// SetMinReceivers configures how many coroutines must be parked in Receive
// at once before Deliver will broadcast to them; the zero-value default
// keeps Deliver's existing best-effort, any-current-waiters behaviour.
func (ch *SyncChannel) SetMinReceivers(n int) {
	ch.mu.Lock()
	ch.minReceivers = n
	ch.mu.Unlock()
}

// Receive registers the calling coroutine as a recipient and suspends
// until a Deliver hands it a value.
func (ch *SyncChannel) Receive(ctx *Context) (any, error) {
	c := ctx.Coro()
	r := &syncRecipient{coro: c, slot: make(chan any, 1)}
	ch.mu.Lock()
	ch.recipients = append(ch.recipients, r)
	ch.mu.Unlock()

	for {
		select {
		case v := <-r.slot:
			return v, nil
		default:
		}
		if err := ctx.ParkForWake(); err != nil {
			return nil, err
		}
	}
}

// Deliver fans value out to every coroutine currently parked in Receive,
// atomically with respect to new registrations arriving mid-broadcast (the
// recipient list is swapped out under the lock before any slot is filled).
// It reports false, delivering to no one, if zero recipients are waiting
// or fewer than MinReceivers are - a non-blocking gate: Deliver never waits
// for more subscribers to show up, callers that need that should pair it
// with an AsyncChannel-style WaitForReceivers at a higher level.
func (ch *SyncChannel) Deliver(value any) bool {
	ch.mu.Lock()
	if len(ch.recipients) == 0 || len(ch.recipients) < ch.minReceivers {
		ch.mu.Unlock()
		return false
	}
	recipients := ch.recipients
	ch.recipients = nil
	ch.mu.Unlock()

	for _, r := range recipients {
		r.slot <- value
		r.coro.scheduler.wake(r.coro)
	}
	return true
}
