package repo

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig(t.TempDir())
	require.Nil(t, c.Validate())

	bond, err := c.RequiredBondAmount()
	require.Nil(t, err)
	want, _ := new(big.Int).SetString("10000000000000000000000", 10)
	assert.Equal(t, 0, bond.Cmp(want))
	assert.Equal(t, 15*time.Second, c.Oracle.PollInterval)
	assert.EqualValues(t, 10000, c.Events.ChunkSize)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()

	r, err := Load(root)
	require.Nil(t, err)
	assert.True(t, Exist(root+"/"+cfgFileName))
	assert.Equal(t, root, r.Config.RepoRoot)

	r.Config.Watch.Bounties = []uint64{1, 4}
	r.Config.Watch.Governance = []string{"0x2a"}
	r.Config.Oracle.BlockTime = 3 * time.Second
	require.Nil(t, r.Flush())

	r, err = Load(root)
	require.Nil(t, err)
	assert.Equal(t, []uint64{1, 4}, r.Config.Watch.Bounties)
	assert.Equal(t, []string{"0x2a"}, r.Config.Watch.Governance)
	assert.Equal(t, 3*time.Second, r.Config.Oracle.BlockTime)
}

func TestLoadWithEnv(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root)
	require.Nil(t, err)

	t.Setenv("GUARDIAN_DIAL_URL", "ws://10.0.0.1:9991")
	t.Setenv("GUARDIAN_CHAIN_ID", "1356")

	r, err := Load(root)
	require.Nil(t, err)
	assert.Equal(t, "ws://10.0.0.1:9991", r.Config.DialUrl)
	assert.EqualValues(t, 1356, r.Config.ChainID)
}

func TestGovernanceIDs(t *testing.T) {
	c := DefaultConfig(t.TempDir())
	c.Watch.Governance = []string{"42", "0x2a"}
	ids, err := c.GovernanceIDs()
	require.Nil(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, 0, ids[0].Cmp(ids[1]))

	c.Watch.Governance = []string{"-1"}
	_, err = c.GovernanceIDs()
	assert.NotNil(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty dial url", func(c *Config) { c.DialUrl = "" }},
		{"bad escrow address", func(c *Config) { c.Contracts.Escrow = "0x1234" }},
		{"bad caller", func(c *Config) { c.Watch.Caller = "alice" }},
		{"bad bond", func(c *Config) { c.Escrow.RequiredBond = "10e18" }},
		{"negative bond", func(c *Config) { c.Escrow.RequiredBond = "-1" }},
		{"bad governance id", func(c *Config) { c.Watch.Governance = []string{"zz"} }},
		{"zero poll interval", func(c *Config) { c.Oracle.PollInterval = 0 }},
		{"zero chunk size", func(c *Config) { c.Events.ChunkSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig(t.TempDir())
			tt.modify(c)
			assert.NotNil(t, c.Validate())
		})
	}
}

func TestValidateReportsFirstBadContract(t *testing.T) {
	c := DefaultConfig(t.TempDir())
	c.Contracts.Governor = "0x12"
	c.Contracts.Token = "0x34"
	for i := 0; i < 20; i++ {
		err := c.Validate()
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "contracts.governor")
	}
}

func TestCheckWritable(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "guardian")
	require.Nil(t, CheckWritable(missing))
	assert.True(t, Exist(missing))

	require.Nil(t, CheckWritable(missing))
	entries, err := os.ReadDir(missing)
	require.Nil(t, err)
	assert.Empty(t, entries)
}

func TestRepoPaths(t *testing.T) {
	c := DefaultConfig("/var/lib/guardian")
	assert.Equal(t, filepath.Join("/var/lib/guardian", "leveldb"), c.StorePath())
	assert.Equal(t, filepath.Join("/var/lib/guardian", "logs"), c.LogsPath())
}

func TestMarshalConfig(t *testing.T) {
	raw, err := MarshalConfig(DefaultConfig(t.TempDir()))
	require.Nil(t, err)
	assert.Contains(t, raw, "dial_url")
	assert.Contains(t, raw, "[contracts]")
	assert.Contains(t, raw, "required_bond")
}
