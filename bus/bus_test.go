package bus

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/prvd/lib/metrics"
	"github.com/tarancss/prvd/lib/storage"
	"github.com/tarancss/prvd/lib/types"
)

const wallet = "0xf4cefc8d1afaa51d5a5e7f57d214b60429ca4378"

// services fakes the identity and ledger services.
type services struct {
	mu         sync.Mutex
	contracts  []types.Contract
	connectors []types.Connector
	status     int   // execute status
	execErr    error // execute transport error
	executed   []execution
}

type execution struct {
	id  string
	req types.ExecuteRequest
}

func (s *services) FetchApplicationDetails(_ context.Context, id string) (int, *types.Application, error) {
	return http.StatusOK, &types.Application{ID: types.ID(id),
		Config: map[string]interface{}{"type": types.ApplicationTypeMessageBus}}, nil
}

func (s *services) FetchContracts(context.Context, url.Values) (int, []types.Contract, error) {
	return http.StatusOK, s.contracts, nil
}

func (s *services) FetchContractDetails(_ context.Context, id string) (int, *types.Contract, error) {
	for i := range s.contracts {
		if string(s.contracts[i].ID) == id {
			return http.StatusOK, &s.contracts[i], nil
		}
	}
	return http.StatusNotFound, nil, nil
}

func (s *services) FetchConnectors(context.Context, url.Values) (int, []types.Connector, error) {
	return http.StatusOK, s.connectors, nil
}

func (s *services) FetchConnectorDetails(_ context.Context, id string) (int, *types.Connector, error) {
	for i := range s.connectors {
		if string(s.connectors[i].ID) == id {
			return http.StatusOK, &s.connectors[i], nil
		}
	}
	return http.StatusNotFound, nil, nil
}

func (s *services) ExecuteContract(_ context.Context, id string, req types.ExecuteRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, execution{id, req})
	return s.status, s.execErr
}

// session fakes a storage session.
type session struct {
	mu      sync.Mutex
	adds    []string
	opts    []storage.AddOptions
	err     error
	closed  int
	entries []storage.Entry
}

func (s *session) Add(_ context.Context, r io.Reader, opts storage.AddOptions) ([]storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.adds = append(s.adds, string(b))
	s.opts = append(s.opts, opts)
	return s.entries, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *session) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.adds)
}

type dialer struct {
	s     *session
	err   error
	addrs []string
	chunk int
}

func (d *dialer) Dial(_ context.Context, addr ma.Multiaddr, chunkSize int) (storage.Session, error) {
	d.addrs = append(d.addrs, addr.String())
	d.chunk = chunkSize
	if d.err != nil {
		return nil, d.err
	}
	return d.s, nil
}

type notifier struct {
	err  error
	sent []types.Published
}

func (n *notifier) Setup(interface{}) error { return nil }
func (n *notifier) Close() error            { return nil }
func (n *notifier) Notify(p types.Published) error {
	n.sent = append(n.sent, p)
	return n.err
}
func (n *notifier) Notifications(string, string) (<-chan types.Published, <-chan error, error) {
	return nil, nil, errors.New("not implemented")
}

func token(t *testing.T, sub string) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func resolver(t *testing.T) *madns.Resolver {
	r, err := madns.NewResolver(madns.WithDefaultResolver(&madns.MockResolver{IP: map[string][]net.IPAddr{
		"ipfs.example.com": {{IP: net.ParseIP("93.184.216.34")}},
	}}))
	require.NoError(t, err)
	return r
}

func fullServices() *services {
	return &services{
		status: http.StatusAccepted,
		contracts: []types.Contract{
			{ID: "1", Address: "0x1", Params: map[string]interface{}{"type": "other"}},
			{ID: "2", Address: "0x2", Params: map[string]interface{}{"type": types.ContractTypeRegistry}},
			{ID: "3", Address: "0x3", Params: map[string]interface{}{"type": types.ContractTypeRegistry}},
		},
		connectors: []types.Connector{
			{ID: "c", Type: types.ConnectorTypeIPFS, Config: map[string]interface{}{"api_url": "https://ipfs.example.com:5001"}},
		},
	}
}

// newBus returns a resolved bus over svc, with the fake session behind d.
func newBus(t *testing.T, svc *services, d *dialer, opts ...Option) *Bus {
	opts = append([]Option{WithDNSResolver(resolver(t))}, opts...)
	b, err := New(Config{WalletAddress: wallet, ChunkSize: 1024}, token(t, "application:app"), svc, svc, d, opts...)
	require.NoError(t, err)
	b.Resolve(context.Background())
	return b
}

func counter(result string) float64 {
	return testutil.ToFloat64(metrics.Publishes.WithLabelValues(result))
}

func TestNewMalformedCredential(t *testing.T) {
	svc := fullServices()
	for _, tok := range []string{"", "not.a.token", token(t, "")} {
		b, err := New(Config{}, tok, svc, svc, &dialer{})
		assert.ErrorIs(t, err, types.ErrMalformedCredential, tok)
		assert.Nil(t, b)
	}

	b, err := New(Config{}, token(t, "organization:org:application:app-42"), svc, svc, &dialer{})
	require.NoError(t, err)
	assert.Equal(t, "app-42", b.ApplicationID())
}

func TestResolve(t *testing.T) {
	b := newBus(t, fullServices(), &dialer{})

	topo := b.Topology()
	require.NotNil(t, topo.Application)
	assert.Equal(t, types.ID("app"), topo.Application.ID)
	require.NotNil(t, topo.Contract)
	assert.Equal(t, types.ID("2"), topo.Contract.ID)
	require.NotNil(t, topo.Connector)
	assert.Equal(t, types.ID("c"), topo.Connector.ID)
}

func TestOpenClose(t *testing.T) {
	d := &dialer{s: &session{}}
	b := newBus(t, fullServices(), d)

	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.Open(context.Background()))
	assert.Equal(t, []string{"/ip4/93.184.216.34/tcp/5001"}, d.addrs)
	assert.Equal(t, 1024, d.chunk)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, d.s.closed)
}

func TestCloseNeverOpened(t *testing.T) {
	b := newBus(t, fullServices(), &dialer{})
	assert.NoError(t, b.Close())
}

func TestOpenErrors(t *testing.T) {
	svc := fullServices()
	svc.connectors = nil
	b := newBus(t, svc, &dialer{s: &session{}})
	assert.ErrorIs(t, b.Open(context.Background()), types.ErrConnectorUnresolved)

	svc = fullServices()
	svc.connectors[0].Config["api_url"] = "https://unknown.example.com"
	b = newBus(t, svc, &dialer{s: &session{}})
	assert.ErrorIs(t, b.Open(context.Background()), types.ErrMultiaddrUnresolved)

	boom := errors.New("connection refused")
	b = newBus(t, fullServices(), &dialer{err: boom})
	assert.ErrorIs(t, b.Open(context.Background()), boom)
	assert.NoError(t, b.Close())
}

func TestPublishAccepted(t *testing.T) {
	svc := fullServices()
	s := &session{entries: []storage.Entry{{Name: "x.msg", Hash: "Qm123"}}}
	n := &notifier{}
	b := newBus(t, svc, &dialer{s: s}, WithNotifier(n))
	require.NoError(t, b.Open(context.Background()))

	before := counter(metrics.Accepted)
	out, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	require.NoError(t, err)

	assert.True(t, out.Accepted)
	assert.NoError(t, out.Err)
	assert.Equal(t, "orders", out.Subject)
	assert.Equal(t, "Qm123", out.Hash)
	assert.Equal(t, http.StatusAccepted, out.Status)
	assert.Equal(t, []string{"hello"}, s.adds)

	require.Len(t, svc.executed, 1)
	assert.Equal(t, "2", svc.executed[0].id)
	assert.Equal(t, types.ExecuteRequest{
		Method:        "publish",
		Params:        []interface{}{"orders", "Qm123"},
		Value:         0,
		WalletAddress: wallet,
	}, svc.executed[0].req)

	require.Len(t, n.sent, 1)
	assert.Equal(t, "orders", n.sent[0].Subject)
	assert.Equal(t, "Qm123", n.sent[0].Hash)
	assert.Equal(t, "2", n.sent[0].Contract)
	assert.Equal(t, "0x2", n.sent[0].Address)
	assert.Equal(t, wallet, n.sent[0].Wallet)
	assert.False(t, n.sent[0].TS.IsZero())

	assert.Equal(t, before+1, counter(metrics.Accepted))
}

func TestPublishNotAccepted(t *testing.T) {
	cases := []struct {
		name   string
		status int
		err    error
	}{
		{"server error", http.StatusInternalServerError, nil},
		{"ok is not accepted", http.StatusOK, nil},
		{"unauthorized", http.StatusUnauthorized, nil},
		{"transport", 0, errors.New("connection reset")},
	}
	for _, c := range cases {
		svc := fullServices()
		svc.status, svc.execErr = c.status, c.err
		s := &session{entries: []storage.Entry{{Hash: "Qm123"}}}
		n := &notifier{}
		b := newBus(t, svc, &dialer{s: s}, WithNotifier(n))
		require.NoError(t, b.Open(context.Background()), c.name)

		before := counter(metrics.NotAccepted)
		out, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
		require.NoError(t, err, c.name)
		assert.False(t, out.Accepted, c.name)
		assert.ErrorIs(t, out.Err, types.ErrPublishNotAccepted, c.name)
		assert.Equal(t, "Qm123", out.Hash, c.name)
		assert.Equal(t, c.status, out.Status, c.name)
		assert.Equal(t, 1, s.calls(), c.name)
		assert.Empty(t, n.sent, c.name)
		assert.Equal(t, before+1, counter(metrics.NotAccepted), c.name)
	}
}

func TestPublishPreconditions(t *testing.T) {
	// no registry contract: nothing is uploaded even with an open session
	svc := fullServices()
	svc.contracts = svc.contracts[:1]
	s := &session{entries: []storage.Entry{{Hash: "Qm123"}}}
	b := newBus(t, svc, &dialer{s: s})
	require.NoError(t, b.Open(context.Background()))

	before := counter(metrics.Precondition)
	_, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	assert.ErrorIs(t, err, types.ErrRegistryUnavailable)
	_, err = b.PublishOnce(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	assert.ErrorIs(t, err, types.ErrRegistryUnavailable)
	assert.Zero(t, s.calls())
	assert.Empty(t, svc.executed)
	assert.Equal(t, before+2, counter(metrics.Precondition))

	// registry resolved but no session
	svc = fullServices()
	b = newBus(t, svc, &dialer{s: s})
	_, err = b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)

	// registry resolved but no connector
	svc.connectors = nil
	b = newBus(t, svc, &dialer{s: s})
	_, err = b.PublishOnce(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)

	assert.Zero(t, s.calls())
	assert.Empty(t, svc.executed)
}

func TestPublishUploadFailure(t *testing.T) {
	boom := errors.New("node unreachable")
	cases := []struct {
		name string
		s    *session
		err  error
	}{
		{"add fails", &session{err: boom}, boom},
		{"no entries", &session{}, storage.ErrNoEntries},
	}
	for _, c := range cases {
		svc := fullServices()
		b := newBus(t, svc, &dialer{s: c.s})
		require.NoError(t, b.Open(context.Background()), c.name)

		before := counter(metrics.UploadFailed)
		out, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
		assert.ErrorIs(t, err, c.err, c.name)
		assert.False(t, out.Accepted, c.name)
		assert.Empty(t, svc.executed, c.name) // never invoke without a hash
		assert.Equal(t, before+1, counter(metrics.UploadFailed), c.name)
	}
}

func TestPublishOptions(t *testing.T) {
	s := &session{entries: []storage.Entry{{Hash: "QmFile"}, {Hash: "QmDir"}}}
	svc := fullServices()
	b, err := New(Config{WalletAddress: wallet, Wrap: true}, token(t, "application:app"), svc, svc, &dialer{s: s},
		WithDNSResolver(resolver(t)))
	require.NoError(t, err)
	b.Resolve(context.Background())
	require.NoError(t, b.Open(context.Background()))

	out, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{Filename: "o.json"})
	require.NoError(t, err)
	assert.Equal(t, "QmDir", out.Hash)
	assert.Equal(t, []storage.AddOptions{{Filename: "o.json", Wrap: true}}, s.opts)
}

func TestPublishNotificationFailureKeepsOutcome(t *testing.T) {
	s := &session{entries: []storage.Entry{{Hash: "Qm123"}}}
	n := &notifier{err: errors.New("broker down")}
	b := newBus(t, fullServices(), &dialer{s: s}, WithNotifier(n))
	require.NoError(t, b.Open(context.Background()))

	out, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Len(t, n.sent, 1)
}

func TestPublishOnce(t *testing.T) {
	svc := fullServices()
	s := &session{entries: []storage.Entry{{Hash: "Qm123"}}}
	d := &dialer{s: s}
	b := newBus(t, svc, d)

	out, err := b.PublishOnce(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, []string{"/ip4/93.184.216.34/tcp/5001"}, d.addrs)
	assert.Equal(t, 1, s.closed)

	// the session is released on failure too
	s.err = errors.New("node unreachable")
	_, err = b.PublishOnce(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
	assert.Error(t, err)
	assert.Equal(t, 2, s.closed)
	assert.Len(t, svc.executed, 1)

	// the long-lived session is not touched
	assert.NoError(t, b.Close())
	assert.Equal(t, 2, s.closed)
}

func TestPublishConcurrent(t *testing.T) {
	svc := fullServices()
	s := &session{entries: []storage.Entry{{Hash: "Qm123"}}}
	b := newBus(t, svc, &dialer{s: s})
	require.NoError(t, b.Open(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := b.Publish(context.Background(), "orders", strings.NewReader("hello"), storage.AddOptions{})
			assert.NoError(t, err)
			assert.True(t, out.Accepted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, s.calls())
	assert.Len(t, svc.executed, 8)
}
