package distributed

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// admission rate-limits inbound discovery pings and TCP connection
// attempts per peer address, so a single misbehaving or compromised peer
// cannot flood the scheduler's accept loop. asyncoro.py has no equivalent
// of its own; this is new protection against a gap the distillation left
// out, built with the pack's own rate limiter.
type admission struct {
	pings *catrate.Limiter
	conns *catrate.Limiter
}

// newAdmission sets up separate ping/connection budgets: a handful of
// discovery pings per second is plenty for a healthy cluster, while TCP
// connection attempts are budgeted a little more generously since a
// single peer may open several in quick succession for concurrent RCI
// calls.
func newAdmission() *admission {
	return &admission{
		pings: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 120,
		}),
		conns: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 20,
			time.Minute: 600,
		}),
	}
}

// allowPing reports whether a discovery ping from addr should be
// processed, categorizing the limiter by peer key so one noisy peer
// cannot exhaust another's budget.
func (a *admission) allowPing(addr string) bool {
	_, ok := a.pings.Allow(addr)
	return ok
}

// allowConn reports whether a new TCP connection from addr should be
// accepted.
func (a *admission) allowConn(addr string) bool {
	_, ok := a.conns.Allow(addr)
	return ok
}
