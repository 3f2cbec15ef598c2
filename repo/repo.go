package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "GUARDIAN_PATH"
	envPrefix      = "GUARDIAN"

	cfgFileName = "guardian.toml"

	defaultRepoRoot = "~/.guardian"

	LogsDirName    = "logs"
	LevelDBDirName = "leveldb"

	DefaultEscrowContractAddr   = "0x0000000000000000000000000000000000001001"
	DefaultGovernorContractAddr = "0x0000000000000000000000000000000000001002"
	DefaultTokenContractAddr    = "0x0000000000000000000000000000000000001003"
)

// Repo is a guardian home directory: the config file, the event cache and
// the rotated logs.
type Repo struct {
	Config *Config
}

// Exist reports whether something is at path. Errors other than not-exist
// count as present so that callers do not overwrite it.
func Exist(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !os.IsNotExist(err)
}

// Load reads the config of the repo at repoRoot, or of the default repo when
// repoRoot is empty. A missing config file is created with the defaults and
// the current GUARDIAN_ environment applied.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(rootPath)
	cfgPath := filepath.Join(rootPath, cfgFileName)

	if !Exist(cfgPath) {
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, errors.Wrap(err, "create repo root")
		}
		if err := writeConfigWithEnv(cfgPath, cfg); err != nil {
			return nil, errors.Wrap(err, "write default config")
		}
		return &Repo{Config: cfg}, nil
	}

	if err := CheckWritable(rootPath); err != nil {
		return nil, err
	}
	if err := readConfigFromFile(cfgPath, cfg); err != nil {
		return nil, errors.Wrapf(err, "read %s", cfgPath)
	}
	return &Repo{Config: cfg}, nil
}

// Flush writes the config back with the environment overrides folded in.
func (r *Repo) Flush() error {
	if err := writeConfigWithEnv(filepath.Join(r.Config.RepoRoot, cfgFileName), r.Config); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

// StorePath is the leveldb directory of the event cache.
func (c *Config) StorePath() string {
	return filepath.Join(c.RepoRoot, LevelDBDirName)
}

func (c *Config) LogsPath() string {
	return filepath.Join(c.RepoRoot, LogsDirName)
}

// writeConfigWithEnv writes config, reads it back through viper so that
// GUARDIAN_ variables override the file, and writes the result.
func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrap(err, "apply environment overrides")
	}
	return writeConfig(cfgPath, config)
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, []byte(raw), 0644)
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	if err := e.Encode(config); err != nil {
		return "", errors.Wrap(err, "encode config")
	}
	return buf.String(), nil
}

// LoadRepoRootFromEnv resolves the repo root: repoRoot itself, then
// GUARDIAN_PATH, then ~/.guardian.
func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	if p := os.Getenv(rootPathEnvVar); p != "" {
		return p, nil
	}
	return homedir.Expand(defaultRepoRoot)
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	return readConfig(vp, config)
}

func readConfig(vp *viper.Viper, config any) error {
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := vp.ReadInConfig(); err != nil {
		return err
	}
	return vp.Unmarshal(config)
}

// CheckWritable makes sure the daemon can create files in dir, creating dir
// when it is missing.
func CheckWritable(dir string) error {
	_, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return os.Mkdir(dir, 0775)
	case os.IsPermission(err):
		return errors.Errorf("cannot access %s: %s", dir, err)
	case err != nil:
		return err
	}

	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("%s is not writable by the current user", dir)
		}
		return errors.Wrapf(err, "check repo root %s", dir)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
