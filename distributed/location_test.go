package distributed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocation_StringAndKey(t *testing.T) {
	loc := Location{Host: "10.0.0.1", Port: 51431}
	require.Equal(t, "10.0.0.1:51431", loc.String())
	require.Equal(t, loc.String(), loc.Key())
}

func TestPeerTable_UpsertGetRemove(t *testing.T) {
	pt := newPeerTable()
	loc := Location{Host: "10.0.0.1", Port: 51431}

	_, ok := pt.get(loc)
	require.False(t, ok)

	pt.upsert(&Peer{Location: loc, Name: "node-a", LastSeen: time.Now()})
	p, ok := pt.get(loc)
	require.True(t, ok)
	require.Equal(t, "node-a", p.Name)

	require.Len(t, pt.list(), 1)

	pt.remove(loc)
	_, ok = pt.get(loc)
	require.False(t, ok)
}

func TestPeerTable_ExpireOlderThan(t *testing.T) {
	pt := newPeerTable()
	stale := Location{Host: "10.0.0.1", Port: 1}
	fresh := Location{Host: "10.0.0.2", Port: 2}

	pt.upsert(&Peer{Location: stale, Name: "stale", LastSeen: time.Now().Add(-time.Hour)})
	pt.upsert(&Peer{Location: fresh, Name: "fresh", LastSeen: time.Now()})

	expired := pt.expireOlderThan(time.Now().Add(-time.Minute))
	require.Len(t, expired, 1)
	require.Equal(t, "stale", expired[0].Name)

	_, ok := pt.get(fresh)
	require.True(t, ok)
	_, ok = pt.get(stale)
	require.False(t, ok)
}
