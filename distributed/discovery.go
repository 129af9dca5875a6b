package distributed

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// pingMessage is broadcast over UDP to announce this node's presence,
// grounded on asyncoro.py's `'PING:' + serialize(ping_msg)` discovery
// packet. Signature is this process's own random signature, not yet
// authenticated - the UDP ping only advertises a location and a claim; the
// TCP handshake it triggers is what actually verifies the shared secret.
type pingMessage struct {
	Name      string
	Location  Location
	Signature string
}

const pingPrefix = "PING:"

func init() {
	RegisterType(pingMessage{})
}

// newSignature generates the 20 random bytes, hex-encoded, that this
// process advertises as its identity for the lifetime of the Node.
func newSignature() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("asyncoro/distributed: generate signature: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// authToken derives the per-peer authentication token from a claimed
// signature and the cluster's shared secret, grounded on asyncoro.py's
// `hashlib.sha1(self._signature + secret).hexdigest()`. A request's Auth
// field is always SHA1(sender's-own-signature || secret); a recipient
// verifies it by recomputing authToken against whatever signature it has
// on file for that sender (from the discovery handshake).
func authToken(peerSignature string, secret []byte) string {
	h := sha1.New()
	h.Write([]byte(peerSignature))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// discovery owns the UDP broadcast socket used to announce this node and
// to receive other nodes' announcements.
type discovery struct {
	conn      *net.UDPConn
	name      string
	self      Location
	secret    []byte
	signature string
	codec     *codec
}

func newDiscovery(udpPort int, name string, self Location, secret []byte) (*discovery, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: udpPort})
	if err != nil {
		return nil, fmt.Errorf("asyncoro/distributed: listen udp: %w", err)
	}
	sig, err := newSignature()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &discovery{conn: conn, name: name, self: self, secret: secret, signature: sig, codec: newCodec()}, nil
}

// ownAuthToken is the token this node attaches to every outbound request:
// proof, to any peer that already knows our signature, that we hold the
// shared secret.
func (d *discovery) ownAuthToken() string { return authToken(d.signature, d.secret) }

// broadcast sends one PING to the given broadcast address.
func (d *discovery) broadcast(broadcastAddr *net.UDPAddr) error {
	msg := pingMessage{Name: d.name, Location: d.self, Signature: d.signature}
	body, err := d.codec.encode(msg)
	if err != nil {
		return err
	}
	packet := append([]byte(pingPrefix), body...)
	_, err = d.conn.WriteToUDP(packet, broadcastAddr)
	return err
}

// receive blocks for up to timeout waiting for one inbound ping. The
// signature it carries is an unauthenticated claim; callers must complete
// the TCP handshake (see Node.handshakeWith) before trusting it.
func (d *discovery) receive(timeout time.Duration) (*pingMessage, error) {
	buf := make([]byte, 4096)
	_ = d.conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	if n < len(pingPrefix) || string(buf[:len(pingPrefix)]) != pingPrefix {
		return nil, fmt.Errorf("asyncoro/distributed: malformed discovery packet")
	}
	decoded, err := d.codec.decode(buf[len(pingPrefix):n])
	if err != nil {
		return nil, err
	}
	msg, ok := decoded.(pingMessage)
	if !ok {
		return nil, fmt.Errorf("asyncoro/distributed: unexpected discovery payload type")
	}
	return &msg, nil
}

func (d *discovery) close() error { return d.conn.Close() }
