package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/hjson"
	"github.com/knadh/koanf/providers/cliflagv2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v2"

	"github.com/darkhz/bttnc/tnc"
)

const (
	configFile    = "bttnc.conf"
	oldConfigFile = "config"
)

// commandKeys are flags that select what to do, and are never persisted.
var commandKeys = []string{
	"connect", "reconnect", "auto-connect", "halt", "list-devices", "generate",
}

// oldConfigKeys maps the variables of the old configuration to their keys.
var oldConfigKeys = map[string]string{
	"DEVICE_MAC": "device-mac",
	"CALLSIGN":   "callsign",
	"RFCOMM":     "rfcomm",
	"ADAPTER":    "adapter",
}

// Config describes the configuration for the app.
type Config struct {
	path string

	Values Values
}

// NewConfig returns a new configuration.
func NewConfig() *Config {
	return &Config{}
}

// Load loads the configuration from the configuration file and the command-line flags.
func (c *Config) Load(k *koanf.Koanf, cliCtx *cli.Context) error {
	if err := c.createConfigDir(); err != nil {
		return err
	}

	cfgfile, err := c.FilePath(configFile)
	if err != nil {
		return err
	}

	if err := k.Load(file.Provider(cfgfile), hjson.Parser()); err != nil {
		return err
	}

	if cliCtx != nil {
		if err := k.Load(cliflagv2.Provider(cliCtx, "."), nil); err != nil {
			return err
		}
	}

	return k.UnmarshalWithConf("", &c.Values, koanf.UnmarshalConf{Tag: "koanf"})
}

// ValidateValues validates the configuration values.
func (c *Config) ValidateValues() error {
	return c.Values.validateValues()
}

// Callsign returns the configured callsign.
func (c *Config) Callsign() string {
	return c.Values.Callsign
}

// DeviceFor returns the device last connected on the channel. If the channel
// has no device, the device that was connected last on any channel is returned.
func (c *Config) DeviceFor(channel tnc.Channel) (tnc.Address, bool) {
	if record, ok := c.Values.Channels[channel.String()]; ok && record.DeviceMac != "" {
		if address, err := tnc.ParseAddress(record.DeviceMac); err == nil {
			return address, true
		}
	}

	if c.Values.DeviceMac == "" {
		return "", false
	}

	address, err := tnc.ParseAddress(c.Values.DeviceMac)

	return address, err == nil
}

// Remember persists the device and callsign of the target, and writes the
// AX.25 port of its channel to the axports file.
func (c *Config) Remember(target tnc.Target) error {
	callsign, err := NormalizeCallsign(target.Callsign)
	if err != nil {
		return err
	}

	conf, err := c.FilePath(configFile)
	if err != nil {
		return err
	}

	saved := koanf.New(".")
	if err := saved.Load(file.Provider(conf), hjson.Parser()); err != nil {
		return err
	}

	address := target.Address.String()
	for key, value := range map[string]any{
		"callsign":   callsign,
		"device-mac": address,
		"channels." + target.Channel.String() + ".device-mac": address,
	} {
		if err := saved.Set(key, value); err != nil {
			return err
		}
	}

	if err := c.save(saved); err != nil {
		return err
	}

	c.Values.Callsign = callsign
	c.Values.DeviceMac = address
	if c.Values.Channels == nil {
		c.Values.Channels = make(map[string]ChannelRecord)
	}
	c.Values.Channels[target.Channel.String()] = ChannelRecord{DeviceMac: address}

	return UpsertPort(c.Values.Axports, PortFor(target.Channel, callsign))
}

// createConfigDir checks for and/or creates a configuration directory.
func (c *Config) createConfigDir() error {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	type configDir struct {
		path, fullpath               string
		exist, hidden, prefixHomeDir bool
	}

	configPaths := []*configDir{
		{path: os.Getenv("XDG_CONFIG_HOME")},
		{path: ".config", prefixHomeDir: true},
		{path: ".", hidden: true, prefixHomeDir: true},
	}

	for _, dir := range configPaths {
		name := "bttnc"

		if dir.path == "" {
			continue
		}

		if dir.hidden {
			name = "." + name
		}

		if dir.prefixHomeDir {
			dir.path = filepath.Join(homedir, dir.path)
		}

		if _, err := os.Stat(filepath.Clean(dir.path)); err == nil {
			dir.exist = true
		}

		dir.fullpath = filepath.Join(dir.path, name)
		if _, err := os.Stat(filepath.Clean(dir.fullpath)); err == nil {
			c.path = dir.fullpath
			break
		}
	}

	if c.path == "" {
		var pathErrors []string

		for _, dir := range configPaths {
			if dir.fullpath == "" || !dir.exist {
				continue
			}

			if err := os.Mkdir(dir.fullpath, os.ModePerm); err == nil {
				c.path = dir.fullpath
				break
			}

			pathErrors = append(pathErrors, dir.fullpath)
		}

		if c.path == "" {
			return fmt.Errorf("the configuration directories could not be created at %s%s", "\n", strings.Join(pathErrors, "\n"))
		}
	}

	return nil
}

// FilePath returns the absolute path for the given configuration file.
func (c *Config) FilePath(configFile string) (string, error) {
	confPath := filepath.Join(c.path, configFile)

	if _, err := os.Stat(confPath); err != nil {
		fd, err := os.Create(confPath)
		if err != nil {
			return "", fmt.Errorf("cannot create "+configFile+" file at %s", confPath)
		}
		fd.Close()
	}

	return confPath, nil
}

// GenerateAndSave generates and updates the configuration.
// Any existing values are appended to it.
func (c *Config) GenerateAndSave(currentCfg *koanf.Koanf) (bool, error) {
	var parsedOldCfg bool

	cfg, err := c.parseOldConfig(currentCfg)
	if err == nil {
		parsedOldCfg = true
	}

	for _, key := range commandKeys {
		cfg.Delete(key)
	}

	return parsedOldCfg, c.save(cfg)
}

// save writes the configuration to the configuration file.
func (c *Config) save(cfg *koanf.Koanf) error {
	data, err := hjson.Parser().Marshal(cfg.All())
	if err != nil {
		return err
	}

	conf, err := c.FilePath(configFile)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(conf, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return err
	}

	return f.Sync()
}

// parseOldConfig parses and stores values from the old, shell variable
// based configuration, for example:
//
//	DEVICE_MAC=38:D2:00:01:11:FE
//	CALLSIGN=N0CALL
func (c *Config) parseOldConfig(currentCfg *koanf.Koanf) (*koanf.Koanf, error) {
	f := filepath.Join(c.path, oldConfigFile)
	if _, err := os.Stat(f); err != nil {
		return currentCfg, nil
	}

	fd, err := os.OpenFile(f, os.O_RDONLY, os.ModePerm)
	if err != nil {
		return currentCfg, errors.New("the old configuration could not be read")
	}

	k := koanf.New(".")
	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		values := strings.SplitN(strings.TrimPrefix(line, "export "), "=", 2)
		if len(values) != 2 {
			continue
		}

		key, ok := oldConfigKeys[strings.TrimSpace(values[0])]
		if !ok {
			continue
		}

		k.Set(key, strings.Trim(strings.TrimSpace(values[1]), `"'`))
	}

	fd.Close()

	if err = scanner.Err(); err != nil && err != io.EOF {
		return currentCfg, errors.New("the old configuration could not be parsed")
	}

	if err := k.Merge(currentCfg); err != nil {
		return currentCfg, err
	}

	return k, nil
}
