// Package wallet resolves the wallet address the message bus publishes from.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tarancss/hd"
)

// Path locates an address in an HD wallet.
type Path struct {
	Wallet uint32 `json:"wallet"`
	Change uint8  `json:"change"` // hd.External or hd.Change
	ID     uint32 `json:"id"`
}

// Errors returned.
var (
	ErrNoWallet = errors.New("no wallet address nor HD seed configured")
	ErrSeed     = errors.New("invalid HD seed")
	ErrChange   = errors.New("invalid change: has to be either 0 (external) or 1 (change)")
)

// Address derives the address at path from the hex encoded seed and returns it 0x prefixed.
func Address(seed string, path Path) (string, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(seed, "0x"))
	if err != nil || len(b) == 0 {
		return "", fmt.Errorf("%w: %v", ErrSeed, err)
	}
	if path.Change != hd.External && path.Change != hd.Change {
		return "", ErrChange
	}

	w, err := hd.Init(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSeed, err)
	}
	addr, _, _, err := w.Address(path.Wallet, path.Change, path.ID)
	if err != nil {
		return "", fmt.Errorf("deriving address %d/%d/%d: %w", path.Wallet, path.Change, path.ID, err)
	}

	return "0x" + hex.EncodeToString(addr), nil
}

// Resolve returns address when set, otherwise the address derived from seed at path.
func Resolve(address, seed string, path Path) (string, error) {
	if address != "" {
		return address, nil
	}
	if seed == "" {
		return "", ErrNoWallet
	}
	return Address(seed, path)
}
