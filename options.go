package asyncoro

import "crypto/tls"

// schedulerOptions holds configuration resolved from SchedulerOption values.
type schedulerOptions struct {
	node       string
	udpPort    int
	tcpPort    int
	extIPAddr  string
	name       string
	secret     []byte
	tlsConfig  *tls.Config
	notifier   Notifier
	logger     Logger
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

type schedulerOptionFunc struct {
	fn func(*schedulerOptions) error
}

func (o *schedulerOptionFunc) applyScheduler(cfg *schedulerOptions) error { return o.fn(cfg) }

// WithNode records a bind address for distributed discovery and transport.
//
// WithNode, WithUDPPort, WithTCPPort, WithExtIPAddr, WithName and WithSecret
// only store their value in the scheduler's options; nothing reads them.
// distributed.NewNode takes its addresses, ports, name and secret from its
// own NodeConfig.
func WithNode(addr string) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.node = addr
		return nil
	}}
}

// WithUDPPort records a discovery broadcast port (see WithNode).
func WithUDPPort(port int) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.udpPort = port
		return nil
	}}
}

// WithTCPPort records a request/reply transport port (see WithNode).
func WithTCPPort(port int) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.tcpPort = port
		return nil
	}}
}

// WithExtIPAddr records an address to advertise to peers, for hosts behind
// NAT where the bind address isn't externally reachable (see WithNode).
func WithExtIPAddr(addr string) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.extIPAddr = addr
		return nil
	}}
}

// WithName records an advertised node name (see WithNode).
func WithName(name string) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.name = name
		return nil
	}}
}

// WithSecret records a shared secret for the SHA1 peer signature token
// (see WithNode).
func WithSecret(secret []byte) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.secret = secret
		return nil
	}}
}

// WithTLS enables TLS on the transport listener using the given certificate
// and key files.
func WithTLS(certFile, keyFile string) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return WrapError("asyncoro: loading TLS keypair", err)
		}
		cfg.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		return nil
	}}
}

// WithNotifier overrides the default platform Notifier, primarily for
// testing with a fake implementation.
func WithNotifier(n Notifier) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.notifier = n
		return nil
	}}
}

// WithLogger attaches a structured Logger; the default is NoOpLogger.
func WithLogger(l Logger) SchedulerOption {
	return &schedulerOptionFunc{func(cfg *schedulerOptions) error {
		cfg.logger = l
		return nil
	}}
}

func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		udpPort: 51430,
		tcpPort: 51431,
		logger:  NoOpLogger{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.notifier == nil {
		n, err := newPlatformNotifier()
		if err != nil {
			return nil, err
		}
		cfg.notifier = n
	}
	return cfg, nil
}
