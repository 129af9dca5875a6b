package distributed

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthToken_DeterministicAndSecretSensitive(t *testing.T) {
	a := authToken("peer-signature", []byte("shared-secret"))
	b := authToken("peer-signature", []byte("shared-secret"))
	require.Equal(t, a, b)

	c := authToken("peer-signature", []byte("different-secret"))
	require.NotEqual(t, a, c)
}

func TestDiscovery_BroadcastAndReceiveRoundTrip(t *testing.T) {
	secret := []byte("cluster-secret")

	sender, err := newDiscovery(0, "sender", Location{Host: "127.0.0.1", Port: 9001}, secret)
	require.NoError(t, err)
	defer sender.close()

	receiver, err := newDiscovery(0, "receiver", Location{Host: "127.0.0.1", Port: 9002}, secret)
	require.NoError(t, err)
	defer receiver.close()

	receiverAddr := receiver.conn.LocalAddr().(*net.UDPAddr)
	require.NoError(t, sender.broadcast(receiverAddr))

	msg, err := receiver.receive(time.Second)
	require.NoError(t, err)
	require.Equal(t, "sender", msg.Name)
	require.Equal(t, Location{Host: "127.0.0.1", Port: 9001}, msg.Location)
	require.Equal(t, sender.signature, msg.Signature)
}

func TestDiscovery_SignaturesAreUniquePerProcess(t *testing.T) {
	a, err := newDiscovery(0, "a", Location{Host: "127.0.0.1", Port: 9005}, []byte("secret"))
	require.NoError(t, err)
	defer a.close()

	b, err := newDiscovery(0, "b", Location{Host: "127.0.0.1", Port: 9006}, []byte("secret"))
	require.NoError(t, err)
	defer b.close()

	require.NotEqual(t, a.signature, b.signature)
}
