// Package relay implements the HTTP gateway of the message bus.
//
// The relay exposes one bus instance through a small RESTful API: the resolved topology and a publish endpoint that
// streams the request body to the bus. Every reply uses the Response envelope.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarancss/prvd/lib/log"
	"github.com/tarancss/prvd/lib/storage"
	"github.com/tarancss/prvd/lib/types"
)

const timeout = 60

// Publisher is the bus capability served by the relay.
type Publisher interface {
	Topology() types.Topology
	Publish(ctx context.Context, subject string, r io.Reader, opts storage.AddOptions) (types.Outcome, error)
}

// Relay contains the data necessary to deliver the service
type Relay struct {
	bus Publisher
	log zerolog.Logger
	mu  sync.Mutex
	s   *http.Server  // http server
	ss  *http.Server  // https server
	sc  chan struct{} // closed on Stop
	ec  chan error    // server errors
}

// New returns a pointer to a new relay serving b.
func New(b Publisher) *Relay {
	return &Relay{
		bus: b,
		log: log.WithComponent("relay"),
		sc:  make(chan struct{}),
		ec:  make(chan error, 2),
	}
}

// Init starts the http server and, if sslPort, sslCert and sslKey are informed, an https (TLS) server on the
// specified endpoint. It blocks until Stop is called and returns the errors the servers failed with, if any.
func (rl *Relay) Init(endpoint, port, sslPort, sslCert, sslKey string) error {
	r := rl.Router()

	rl.mu.Lock()
	if port != "" {
		rl.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}
		go func() {
			rl.ec <- rl.s.ListenAndServe()
		}()
		rl.log.Info().Str("addr", rl.s.Addr).Msg("listening to API http requests")
	}
	if sslPort != "" && sslCert != "" && sslKey != "" {
		rl.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}
		go func() {
			rl.ec <- rl.ss.ListenAndServeTLS(sslCert, sslKey)
		}()
		rl.log.Info().Str("addr", rl.ss.Addr).Msg("listening to API https requests")
	}
	rl.mu.Unlock()

	// wait for servers to be shutdown
	<-rl.sc

	var errs []error
	for {
		select {
		case err := <-rl.ec:
			if !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// Stop shuts down the http servers gracefully, waiting for in-flight publishes, and releases Init.
func (rl *Relay) Stop(ctx context.Context) {
	rl.mu.Lock()
	servers := []*http.Server{rl.s, rl.ss}
	rl.mu.Unlock()

	for _, s := range servers {
		if s == nil {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			rl.log.Error().Err(err).Str("addr", s.Addr).Msg("server shutdown")
		}
	}
	select {
	case <-rl.sc:
	default:
		close(rl.sc)
	}
}
