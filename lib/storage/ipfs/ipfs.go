// Package ipfs implements the storage interface for IPFS nodes through their HTTP API.
package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/tarancss/prvd/lib/log"
	"github.com/tarancss/prvd/lib/storage"
)

// Dialer opens IPFS sessions. Timeout bounds every request of the session, zero means no timeout.
type Dialer struct {
	Timeout time.Duration
}

// Session is a persistent connection to an IPFS node API. Uploads are serialized.
type Session struct {
	mu    sync.Mutex
	sh    *shell.Shell
	hc    *http.Client
	addr  string
	chunk int
	log   zerolog.Logger
}

// Dial connects to the IPFS node API listening on addr, checking it is up before returning the session.
func (d Dialer) Dial(ctx context.Context, addr ma.Multiaddr, chunkSize int) (storage.Session, error) {
	if addr == nil {
		return nil, errors.New("ipfs: nil multiaddr")
	}
	if chunkSize <= 0 {
		chunkSize = storage.DefaultChunkSize
	}

	hc := &http.Client{Timeout: d.Timeout, Transport: http.DefaultTransport.(*http.Transport).Clone()}
	s := &Session{
		sh:    shell.NewShellWithClient(addr.String(), hc),
		hc:    hc,
		addr:  addr.String(),
		chunk: chunkSize,
		log:   log.WithComponent("ipfs").With().Str("addr", addr.String()).Logger(),
	}

	var v struct {
		Version string
	}
	if err := s.sh.Request("version").Exec(ctx, &v); err != nil {
		hc.CloseIdleConnections()
		return nil, fmt.Errorf("ipfs: cannot connect to %s: %w", addr, err)
	}
	s.log.Info().Str("version", v.Version).Int("chunk_size", chunkSize).Msg("connected to IPFS node")

	return s, nil
}

// Add streams r to the node as a multipart upload using the session chunk size. The content is pinned.
func (s *Session) Add(ctx context.Context, r io.Reader, opts storage.AddOptions) ([]storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sh == nil {
		return nil, storage.ErrClosed
	}

	name := storage.Filename(opts.Filename)
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", url.QueryEscape(name))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	res, err := s.sh.Request("add").
		Option("chunker", fmt.Sprintf("size-%d", s.chunk)).
		Option("wrap-with-directory", opts.Wrap).
		Option("pin", true).
		Option("progress", false).
		Header("Content-Type", mw.FormDataContentType()).
		Body(pr).
		Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("ipfs: add %s: %w", name, err)
	}
	defer res.Close()
	if res.Error != nil {
		return nil, fmt.Errorf("ipfs: add %s: %w", name, res.Error)
	}

	var entries []storage.Entry
	dec := json.NewDecoder(res.Output)
	for {
		var e storage.Entry
		if err = dec.Decode(&e); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("ipfs: decoding add result: %w", err)
		}
		entries = append(entries, e)
	}

	s.log.Debug().Str("name", name).Int("entries", len(entries)).Msg("added content")
	return entries, nil
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sh == nil {
		return nil
	}
	s.sh = nil
	s.hc.CloseIdleConnections()
	s.log.Info().Msg("closed IPFS session")
	return nil
}
