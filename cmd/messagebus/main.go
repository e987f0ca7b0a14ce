// Package main: message bus service.
//
// The service resolves the message bus topology of the application named by the configured token, opens a session to
// its distributed filesystem connector and relays publishes received over HTTP. With -p it publishes stdin once under
// the given subject and exits; with -w it prints the notifications of accepted publishes matching the given pattern.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarancss/prvd/bus"
	"github.com/tarancss/prvd/lib/api"
	"github.com/tarancss/prvd/lib/api/goldmine"
	"github.com/tarancss/prvd/lib/api/ident"
	"github.com/tarancss/prvd/lib/config"
	"github.com/tarancss/prvd/lib/log"
	"github.com/tarancss/prvd/lib/msg"
	"github.com/tarancss/prvd/lib/msg/amqp"
	"github.com/tarancss/prvd/lib/storage"
	"github.com/tarancss/prvd/lib/storage/ipfs"
	"github.com/tarancss/prvd/relay"
)

func main() {
	os.Exit(run())
}

// run starts the service and returns the process exit code once it stops.
func run() int {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100/metrics")
	subject := flag.String("p", "", "publish stdin under this subject and exit")
	watch := flag.String("w", "", "print publish notifications matching this routing key pattern (ie. publish.#)")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		base := log.Base()
		base.Error().Err(err).Msg("reading configuration")
		return 1
	}
	log.Configure(log.Config{Level: conf.LogLevel, Service: "messagebus"})
	logger := log.WithComponent("main")

	// load message broker
	var mb msg.Notifier
	switch conf.MbType {
	case "amqp":
		var r *amqp.Amqp
		if r, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if r, err = amqp.New(conf.MbConn); err != nil {
				logger.Error().Err(err).Msg("connecting to message broker")
				return 1
			}
		}
		if err = r.Setup(nil); err != nil {
			logger.Error().Err(err).Msg("setting up message broker")
			return 1
		}
		mb = r

		defer func() {
			if errClose := mb.Close(); errClose != nil {
				logger.Error().Err(errClose).Msg("closing message broker")
			}
		}()
	case "":
	default:
		logger.Warn().Str("mbtype", conf.MbType).Msg("unknown message broker type")
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch != "" {
		return watchNotifications(ctx, mb, *watch)
	}

	// load sending wallet
	walletAddr, err := conf.Wallet()
	if err != nil {
		logger.Error().Err(err).Msg("resolving sending wallet")
		return 1
	}

	// create message bus
	opts := []bus.Option{bus.WithLogger(log.WithComponent("bus").With().Str("wallet", walletAddr).Logger())}
	if mb != nil {
		opts = append(opts, bus.WithNotifier(mb))
	}
	b, err := bus.New(
		bus.Config{WalletAddress: walletAddr, ChunkSize: conf.ChunkSize, Wrap: conf.Wrap},
		conf.Token,
		ident.New(api.New(conf.Ident())),
		goldmine.New(api.New(conf.Goldmine())),
		ipfs.Dialer{Timeout: time.Duration(conf.Timeout)},
		opts...,
	)
	if err != nil {
		logger.Error().Err(err).Msg("creating message bus")
		return 1
	}
	b.Resolve(ctx)

	if *subject != "" {
		return publishOnce(ctx, b, *subject)
	}

	// load Prometheus monitor
	if *monitor {
		go func() {
			logger.Info().Msg("serving metrics API")

			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":9100", h); err != nil {
				logger.Error().Err(err).Msg("metrics API")
			}
		}()
	}

	// open the long-lived storage session
	if err = b.Open(ctx); err != nil {
		logger.Error().Err(err).Msg("storage session not available, publishes will be rejected")
	}
	defer func() {
		if errClose := b.Close(); errClose != nil {
			logger.Error().Err(errClose).Msg("closing storage session")
		}
	}()

	rl := relay.New(b)
	go func() {
		<-ctx.Done()
		logger.Info().Msg("program killed")
		// wait for in-flight publishes to end
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rl.Stop(sctx)
	}()

	// init RESTful API and wait for its return
	if err = rl.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey); err != nil {
		logger.Error().Err(err).Msg("relay stopped")
		return 1
	}
	return 0
}

// publishOnce publishes stdin through a session scoped to the call and prints the outcome. It returns the exit code.
func publishOnce(ctx context.Context, b *bus.Bus, subject string) int {
	logger := log.WithComponent("main")

	out, err := b.PublishOnce(ctx, subject, os.Stdin, storage.AddOptions{})
	if err != nil {
		logger.Error().Err(err).Str("subject", subject).Msg("publish failed")
		return 1
	}
	_ = json.NewEncoder(os.Stdout).Encode(out)
	if !out.Accepted {
		return 2
	}
	return 0
}

// watchNotifications prints the notifications matching pattern until ctx is done. It returns the exit code.
func watchNotifications(ctx context.Context, mb msg.Notifier, pattern string) int {
	logger := log.WithComponent("main")

	if mb == nil {
		logger.Error().Msg("watching notifications requires a message broker")
		return 1
	}
	pubs, errs, err := mb.Notifications("prvd-watch", pattern)
	if err != nil {
		logger.Error().Err(err).Msg("consuming notifications")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return 0
		case p, ok := <-pubs:
			if !ok {
				return 0
			}
			_ = enc.Encode(p)
		case err := <-errs:
			logger.Warn().Err(err).Msg("malformed notification")
		}
	}
}
