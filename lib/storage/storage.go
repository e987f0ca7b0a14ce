// Package storage defines the interface for content-addressed storage networks used to hold published messages.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	ma "github.com/multiformats/go-multiaddr"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 262144

// FileExt is appended to generated filenames.
const FileExt = ".msg"

// Entry is one result of an upload. The last entry of an upload is the top-level content.
type Entry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size,omitempty"`
}

// AddOptions control an upload.
type AddOptions struct {
	Filename string // a name is generated when empty
	Wrap     bool   // wrap the content in a directory entry
}

// Session is a live connection to a storage node. Implementations serialize concurrent uploads.
type Session interface {
	// Add streams r to the node and returns the result entries.
	Add(ctx context.Context, r io.Reader, opts AddOptions) ([]Entry, error)
	// Close releases the session. Closing twice is a no-op.
	Close() error
}

// Dialer opens sessions to storage nodes.
type Dialer interface {
	Dial(ctx context.Context, addr ma.Multiaddr, chunkSize int) (Session, error)
}

// Errors returned.
var (
	ErrClosed    = errors.New("storage session closed")
	ErrNoEntries = errors.New("storage node returned no entries")
	ErrNoHash    = errors.New("storage node returned an entry without hash")
)

// Hash returns the content hash of the top-level entry.
func Hash(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", ErrNoEntries
	}
	h := entries[len(entries)-1].Hash
	if h == "" {
		return "", ErrNoHash
	}
	return h, nil
}

// Filename returns name, or a random one when name is empty so that concurrent uploads do not collide.
func Filename(name string) string {
	if name != "" {
		return name
	}
	return uuid.New().String() + FileExt
}

// With opens a session, runs fn on it and closes the session on every return path.
func With(ctx context.Context, d Dialer, addr ma.Multiaddr, chunkSize int, fn func(Session) error) (err error) {
	s, err := d.Dial(ctx, addr, chunkSize)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := s.Close(); err == nil {
			err = errClose
		}
	}()
	return fn(s)
}
