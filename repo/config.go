package repo

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type Config struct {
	RepoRoot string `mapstructure:"-" toml:"-"`
	DialUrl  string `mapstructure:"dial_url" toml:"dial_url"`
	// expected network, 0 accepts whatever the node reports
	ChainID   uint64    `mapstructure:"chain_id" toml:"chain_id"`
	Contracts Contracts `mapstructure:"contracts" toml:"contracts"`
	Escrow    Escrow    `mapstructure:"escrow" toml:"escrow"`
	Oracle    Oracle    `mapstructure:"oracle" toml:"oracle"`
	Events    Events    `mapstructure:"events" toml:"events"`
	Watch     Watch     `mapstructure:"watch" toml:"watch"`
	Intent    Intent    `mapstructure:"intent" toml:"intent"`
	Metrics   Metrics   `mapstructure:"metrics" toml:"metrics"`
	Log       Log       `mapstructure:"log" toml:"log"`
}

type Contracts struct {
	Escrow   string `mapstructure:"escrow" toml:"escrow"`
	Governor string `mapstructure:"governor" toml:"governor"`
	Token    string `mapstructure:"token" toml:"token"`
}

type Escrow struct {
	// challenge bond in the token's smallest unit, as a decimal string
	RequiredBond string `mapstructure:"required_bond" toml:"required_bond"`
}

type Oracle struct {
	PollInterval time.Duration `mapstructure:"poll_interval" toml:"poll_interval"`
	// used to project the time of blocks not produced yet
	BlockTime time.Duration `mapstructure:"block_time" toml:"block_time"`
}

type Events struct {
	// first block worth scanning, usually the contracts' deployment block
	DeployBlock  uint64        `mapstructure:"deploy_block" toml:"deploy_block"`
	ChunkSize    uint64        `mapstructure:"chunk_size" toml:"chunk_size"`
	Concurrency  int           `mapstructure:"concurrency" toml:"concurrency"`
	Retries      uint          `mapstructure:"retries" toml:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" toml:"retry_backoff"`
}

type Watch struct {
	// address whose eligibility is evaluated, empty watches as a disconnected caller
	Caller     string        `mapstructure:"caller" toml:"caller"`
	Bounties   []uint64      `mapstructure:"bounties" toml:"bounties"`
	Governance []string      `mapstructure:"governance" toml:"governance"`
	Interval   time.Duration `mapstructure:"interval" toml:"interval"`
}

type Intent struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" toml:"confirm_timeout"`
}

type Metrics struct {
	Enable bool   `mapstructure:"enable" toml:"enable"`
	Listen string `mapstructure:"listen" toml:"listen"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		DialUrl:  "ws://localhost:9991",
		ChainID:  0,
		Contracts: Contracts{
			Escrow:   DefaultEscrowContractAddr,
			Governor: DefaultGovernorContractAddr,
			Token:    DefaultTokenContractAddr,
		},
		Escrow: Escrow{
			RequiredBond: "10000000000000000000000",
		},
		Oracle: Oracle{
			PollInterval: 15 * time.Second,
			BlockTime:    2 * time.Second,
		},
		Events: Events{
			DeployBlock:  1,
			ChunkSize:    10000,
			Concurrency:  4,
			Retries:      3,
			RetryBackoff: time.Second,
		},
		Watch: Watch{
			Interval: 15 * time.Second,
		},
		Intent: Intent{
			ConfirmTimeout: 2 * time.Minute,
		},
		Metrics: Metrics{
			Enable: false,
			Listen: "localhost:9100",
		},
		Log: Log{
			Level:        "info",
			Filename:     "guardian.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
	}
}

// RequiredBondAmount parses the configured challenge bond.
func (c *Config) RequiredBondAmount() (*big.Int, error) {
	bond, ok := new(big.Int).SetString(c.Escrow.RequiredBond, 10)
	if !ok || bond.Sign() < 0 {
		return nil, errors.Errorf("invalid escrow.required_bond %q", c.Escrow.RequiredBond)
	}
	return bond, nil
}

// GovernanceIDs parses the watched governance proposal ids. Ids are decimal
// or 0x prefixed hex.
func (c *Config) GovernanceIDs() ([]*big.Int, error) {
	ids := make([]*big.Int, 0, len(c.Watch.Governance))
	for _, raw := range c.Watch.Governance {
		id, ok := new(big.Int).SetString(raw, 0)
		if !ok || id.Sign() <= 0 {
			return nil, errors.Errorf("invalid governance proposal id %q", raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate reports the first setting the guardian cannot run with.
func (c *Config) Validate() error {
	if c.DialUrl == "" {
		return errors.New("dial_url is empty")
	}
	for _, a := range []struct{ name, addr string }{
		{"contracts.escrow", c.Contracts.Escrow},
		{"contracts.governor", c.Contracts.Governor},
		{"contracts.token", c.Contracts.Token},
	} {
		if !common.IsHexAddress(a.addr) {
			return errors.Errorf("%s: invalid address %q", a.name, a.addr)
		}
	}
	if c.Watch.Caller != "" && !common.IsHexAddress(c.Watch.Caller) {
		return errors.Errorf("watch.caller: invalid address %q", c.Watch.Caller)
	}
	if _, err := c.RequiredBondAmount(); err != nil {
		return err
	}
	if _, err := c.GovernanceIDs(); err != nil {
		return err
	}
	if c.Oracle.PollInterval <= 0 {
		return errors.New("oracle.poll_interval must be positive")
	}
	if c.Events.ChunkSize == 0 {
		return errors.New("events.chunk_size must be positive")
	}
	return nil
}
