// Package bus implements a message bus over an on-chain registry contract and a distributed filesystem.
//
// Messages are uploaded to the filesystem connector of the application and their content hash is then recorded by
// invoking the publish method of the registry contract. A Bus is safe for concurrent use: uploads through a shared
// session are serialized by the session and each publish keeps its upload, then invoke order.
package bus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	madns "github.com/multiformats/go-multiaddr-dns"
	"github.com/rs/zerolog"

	"github.com/tarancss/prvd/lib/credential"
	"github.com/tarancss/prvd/lib/log"
	"github.com/tarancss/prvd/lib/metrics"
	"github.com/tarancss/prvd/lib/msg"
	"github.com/tarancss/prvd/lib/storage"
	"github.com/tarancss/prvd/lib/topology"
	"github.com/tarancss/prvd/lib/types"
)

// Config contains the publishing options of a bus.
type Config struct {
	WalletAddress string // sending identity of registry invocations
	ChunkSize     int    // storage chunk size, storage.DefaultChunkSize when zero
	Wrap          bool   // wrap uploads in a directory entry
}

// Ledger is the ledger capability of a bus: topology resolution plus contract execution.
type Ledger interface {
	topology.Ledger
	ExecuteContract(ctx context.Context, id string, req types.ExecuteRequest) (int, error)
}

// Option configures optional collaborators of a bus.
type Option func(*Bus)

// WithNotifier broadcasts accepted publishes through n.
func WithNotifier(n msg.Notifier) Option {
	return func(b *Bus) { b.notifier = n }
}

// WithDNSResolver resolves connector hostnames with r instead of madns.DefaultResolver.
func WithDNSResolver(r *madns.Resolver) Option {
	return func(b *Bus) { b.dns = r }
}

// WithLogger replaces the bus logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// Bus publishes messages for the application named by its credential.
type Bus struct {
	cfg      Config
	cred     credential.Credential
	resolver *topology.Resolver
	ledger   Ledger
	dialer   storage.Dialer
	dns      *madns.Resolver
	notifier msg.Notifier
	log      zerolog.Logger

	mu      sync.RWMutex
	topo    types.Topology
	session storage.Session
}

// New returns a bus for the application identified by token. It fails with types.ErrMalformedCredential when the
// token cannot be decoded. The topology is not resolved until Resolve is called.
func New(cfg Config, token string, apps topology.Applications, ledger Ledger, dialer storage.Dialer,
	opts ...Option) (*Bus, error) {
	cred, err := credential.New(token)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		cfg:      cfg,
		cred:     cred,
		resolver: topology.New(apps, ledger),
		ledger:   ledger,
		dialer:   dialer,
		log:      log.WithComponent("bus"),
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With().Str("application_id", cred.ApplicationID()).Logger()

	return b, nil
}

// ApplicationID returns the application id taken from the credential.
func (b *Bus) ApplicationID() string {
	return b.cred.ApplicationID()
}

// Resolve resolves and stores the topology of the application. Unresolved slots are left nil.
func (b *Bus) Resolve(ctx context.Context) types.Topology {
	t := b.resolver.Resolve(ctx, b.cred.ApplicationID())

	b.mu.Lock()
	b.topo = t
	b.mu.Unlock()

	b.log.Info().Bool("application", t.Application != nil).Bool("contract", t.Contract != nil).
		Bool("connector", t.Connector != nil).Msg("topology resolved")
	return t
}

// Topology returns the last resolved topology.
func (b *Bus) Topology() types.Topology {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topo
}

// Open opens the long-lived storage session to the resolved connector. It fails with types.ErrConnectorUnresolved
// when there is no connector and with types.ErrMultiaddrUnresolved when its address cannot be derived. Opening an
// open bus is a no-op.
func (b *Bus) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return nil
	}
	addr, err := topology.ConnectorMultiaddr(ctx, b.dns, b.topo.Connector)
	if err != nil {
		return err
	}
	s, err := b.dialer.Dial(ctx, addr, b.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("opening storage session to %s: %w", addr, err)
	}
	b.session = s
	b.log.Info().Str("addr", addr.String()).Msg("storage session opened")

	return nil
}

// Close closes the storage session. It is a no-op when no session is open.
func (b *Bus) Close() error {
	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()

	if s == nil {
		return nil
	}
	b.log.Info().Msg("closing storage session")
	return s.Close()
}

// Publish uploads the message read from r through the open session and records its hash in the registry contract.
//
// It fails with types.ErrRegistryUnavailable or types.ErrStorageUnavailable, before any I/O, when the registry
// contract is unresolved or no session is open, and with the upload error when the message does not reach storage.
// Once uploaded the content stays stored: a registry invocation that is not accepted is reported in the returned
// outcome, whose Err wraps types.ErrPublishNotAccepted, and is not an error.
func (b *Bus) Publish(ctx context.Context, subject string, r io.Reader, opts storage.AddOptions) (types.Outcome, error) {
	b.mu.RLock()
	contract, s := b.topo.Contract, b.session
	b.mu.RUnlock()

	if contract == nil {
		metrics.Publishes.WithLabelValues(metrics.Precondition).Inc()
		return types.Outcome{Subject: subject}, types.ErrRegistryUnavailable
	}
	if s == nil {
		metrics.Publishes.WithLabelValues(metrics.Precondition).Inc()
		return types.Outcome{Subject: subject}, types.ErrStorageUnavailable
	}

	return b.publish(ctx, contract, s, subject, r, opts)
}

// PublishOnce is Publish through a session opened for this call only and closed on every return path. It does not
// need Open but fails with types.ErrStorageUnavailable when the connector is unresolved.
func (b *Bus) PublishOnce(ctx context.Context, subject string, r io.Reader, opts storage.AddOptions) (types.Outcome, error) {
	b.mu.RLock()
	contract, connector := b.topo.Contract, b.topo.Connector
	b.mu.RUnlock()

	if contract == nil {
		metrics.Publishes.WithLabelValues(metrics.Precondition).Inc()
		return types.Outcome{Subject: subject}, types.ErrRegistryUnavailable
	}
	if connector == nil {
		metrics.Publishes.WithLabelValues(metrics.Precondition).Inc()
		return types.Outcome{Subject: subject}, types.ErrStorageUnavailable
	}

	addr, err := topology.ConnectorMultiaddr(ctx, b.dns, connector)
	if err != nil {
		metrics.Publishes.WithLabelValues(metrics.UploadFailed).Inc()
		return types.Outcome{Subject: subject}, err
	}

	out := types.Outcome{Subject: subject}
	err = storage.With(ctx, b.dialer, addr, b.cfg.ChunkSize, func(s storage.Session) error {
		var errPub error
		out, errPub = b.publish(ctx, contract, s, subject, r, opts)
		return errPub
	})
	return out, err
}

func (b *Bus) publish(ctx context.Context, contract *types.Contract, s storage.Session, subject string, r io.Reader,
	opts storage.AddOptions) (types.Outcome, error) {
	start := time.Now()
	out := types.Outcome{Subject: subject}
	if !opts.Wrap {
		opts.Wrap = b.cfg.Wrap
	}

	entries, err := s.Add(ctx, r, opts)
	if err == nil {
		out.Hash, err = storage.Hash(entries)
	}
	if err != nil {
		metrics.Publishes.WithLabelValues(metrics.UploadFailed).Inc()
		b.log.Error().Err(err).Str("subject", subject).Msg("message upload failed")
		return out, fmt.Errorf("uploading message: %w", err)
	}

	req := types.ExecuteRequest{
		Method:        types.ContractMethodPublish,
		Params:        []interface{}{subject, out.Hash},
		Value:         0,
		WalletAddress: b.cfg.WalletAddress,
	}
	out.Status, err = b.ledger.ExecuteContract(ctx, string(contract.ID), req)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		out.Err = fmt.Errorf("%w: %v", types.ErrPublishNotAccepted, err)
	case out.Status != http.StatusAccepted:
		out.Err = fmt.Errorf("%w: status %d", types.ErrPublishNotAccepted, out.Status)
	default:
		out.Accepted = true
	}

	l := b.log.With().Str("subject", subject).Str("hash", out.Hash).Str("contract_id", string(contract.ID)).
		Int("status", out.Status).Logger()
	if !out.Accepted {
		metrics.Publishes.WithLabelValues(metrics.NotAccepted).Inc()
		l.Warn().Err(out.Err).Msg("publish not accepted by registry contract")
		return out, nil
	}
	metrics.Publishes.WithLabelValues(metrics.Accepted).Inc()
	l.Info().Msg("message published")

	b.notify(contract, out)
	return out, nil
}

// notify broadcasts an accepted publish. Failures are logged only.
func (b *Bus) notify(contract *types.Contract, out types.Outcome) {
	if b.notifier == nil {
		return
	}
	p := types.Published{
		Subject:  out.Subject,
		Hash:     out.Hash,
		Contract: string(contract.ID),
		Address:  contract.Address,
		Wallet:   b.cfg.WalletAddress,
		Status:   out.Status,
		TS:       time.Now().UTC(),
	}
	if err := b.notifier.Notify(p); err != nil {
		b.log.Warn().Err(err).Str("subject", out.Subject).Msg("publish notification failed")
	}
}
