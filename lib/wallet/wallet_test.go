package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarancss/hd"
)

const seed = "642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24df73e1a2e7056359b6db61e179ff45e5ada51d14f07b30becb6d92b961d35df4"

func TestAddress(t *testing.T) {
	addr, err := Address(seed, Path{Wallet: 2, Change: hd.External, ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "0xf4cefc8d1afaa51d5a5e7f57d214b60429ca4378", addr)

	other, err := Address("0x"+seed, Path{Wallet: 2, Change: hd.Change, ID: 1})
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestAddressErrors(t *testing.T) {
	_, err := Address("not hex", Path{})
	assert.ErrorIs(t, err, ErrSeed)

	_, err = Address("", Path{})
	assert.ErrorIs(t, err, ErrSeed)

	_, err = Address(seed, Path{Change: 7})
	assert.ErrorIs(t, err, ErrChange)
}

func TestResolve(t *testing.T) {
	addr, err := Resolve("0x1234", seed, Path{Wallet: 2, ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "0x1234", addr)

	addr, err = Resolve("", seed, Path{Wallet: 2, ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "0xf4cefc8d1afaa51d5a5e7f57d214b60429ca4378", addr)

	_, err = Resolve("", "", Path{})
	assert.ErrorIs(t, err, ErrNoWallet)
}
