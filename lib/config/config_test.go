// config_test.go tests config files
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileToTest is a relative path to the configuration file to test (ie. prvd/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	conf, err := ExtractConfiguration(fileToTest)
	require.NoError(t, err)

	assert.Equal(t, "3030", conf.Port)
	assert.Equal(t, "goldmine.provide.services", conf.GoldmineHost)
	assert.Equal(t, 30*time.Second, time.Duration(conf.Timeout))
	assert.Equal(t, 262144, conf.ChunkSize)
	assert.Equal(t, uint32(2), conf.WalletPath.Wallet)
	assert.Equal(t, uint32(1), conf.WalletPath.ID)

	addr, err := conf.Wallet()
	require.NoError(t, err)
	assert.Equal(t, "0xf4cefc8d1afaa51d5a5e7f57d214b60429ca4378", addr)
}

func TestConfigDefaults(t *testing.T) {
	conf, err := ExtractConfiguration("")
	require.NoError(t, err)

	assert.Equal(t, "ident.provide.services", conf.IdentHost)
	assert.Equal(t, "https", conf.Ident().Scheme)
	assert.Equal(t, "goldmine.provide.services", conf.Goldmine().Host)
	assert.Equal(t, 30*time.Second, conf.Goldmine().Timeout)
	assert.Empty(t, conf.MbType)

	_, err = conf.Wallet()
	assert.Error(t, err)
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("PRVD_TOKEN", "tok")
	t.Setenv("PRVD_GOLDMINEHOST", "localhost:8080")
	t.Setenv("PRVD_GOLDMINESCHEME", "http")
	t.Setenv("PRVD_TIMEOUT", "5s")
	t.Setenv("PRVD_CHUNKSIZE", "1024")
	t.Setenv("PRVD_WRAP", "true")
	t.Setenv("PRVD_WALLET", "0xabc")

	conf, err := ExtractConfiguration(fileToTest)
	require.NoError(t, err)

	g := conf.Goldmine()
	assert.Equal(t, "http", g.Scheme)
	assert.Equal(t, "localhost:8080", g.Host)
	assert.Equal(t, "tok", g.Token)
	assert.Equal(t, 5*time.Second, g.Timeout)
	assert.Equal(t, 1024, conf.ChunkSize)
	assert.True(t, conf.Wrap)

	addr, err := conf.Wallet()
	require.NoError(t, err)
	assert.Equal(t, "0xabc", addr)
}

func TestConfigErrors(t *testing.T) {
	_, err := ExtractConfiguration("does-not-exist.json")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"timeout": "soon"}`), 0o600))
	_, err = ExtractConfiguration(bad)
	assert.Error(t, err)

	t.Setenv("PRVD_CHUNKSIZE", "big")
	_, err = ExtractConfiguration("")
	assert.Error(t, err)
}
