package global

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"autoconsole/internal/prompt"
)

const targetTOMLFileName = "target.toml"

const (
	maxDECnetArea   = 63
	maxDECnetNumber = 1023
)

// TargetConfig is the on-disk description of the machine being installed.
// The password is never stored.
type TargetConfig struct {
	Name   string       `toml:"name"`
	Root   string       `toml:"root"`
	Domain string       `toml:"domain"`
	DECnet DECnetConfig `toml:"decnet"`
	TCPIP  TCPIPConfig  `toml:"tcpip"`
}

type DECnetConfig struct {
	Area   int `toml:"area"`
	Number int `toml:"number"`
}

type TCPIPConfig struct {
	GatewayAddress  string `toml:"gateway_address"`
	GatewayHostname string `toml:"gateway_hostname"`
	BindServer      string `toml:"bind_server"`
	BindAddress     string `toml:"bind_address"`
}

// Target converts the file form into profile variables.
func (c TargetConfig) Target(password string) prompt.Target {
	return prompt.Target{
		Name:            c.Name,
		Root:            c.Root,
		DECnetArea:      c.DECnet.Area,
		DECnetNumber:    c.DECnet.Number,
		Domain:          c.Domain,
		GatewayAddress:  c.TCPIP.GatewayAddress,
		GatewayHostname: c.TCPIP.GatewayHostname,
		BindServer:      c.TCPIP.BindServer,
		BindAddress:     c.TCPIP.BindAddress,
		Password:        password,
	}
}

type TargetStore struct {
	dir string
}

func NewTargetStore(dir string) *TargetStore {
	return &TargetStore{dir: dir}
}

func (s *TargetStore) Path() string {
	return filepath.Join(s.dir, targetTOMLFileName)
}

func (s *TargetStore) LoadOrInit() (TargetConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return TargetConfig{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg TargetConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return TargetConfig{}, err
		}
		return normalizeTarget(cfg)
	} else if !os.IsNotExist(err) {
		return TargetConfig{}, err
	}

	cfg, err := normalizeTarget(TargetConfig{})
	if err != nil {
		return TargetConfig{}, err
	}
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return TargetConfig{}, err
	}
	return cfg, nil
}

func (s *TargetStore) Save(cfg TargetConfig) error {
	cfg, err := normalizeTarget(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), cfg)
}

// normalizeTarget fills unset fields with defaults. A DECnet address that
// is set but out of range is an error.
func normalizeTarget(cfg TargetConfig) (TargetConfig, error) {
	cfg.Name = strings.ToLower(strings.TrimSpace(cfg.Name))
	if cfg.Name == "" {
		cfg.Name = "robin"
	}
	cfg.Root = strings.ToLower(strings.TrimSpace(cfg.Root))
	if cfg.Root == "" {
		cfg.Root = "sys0"
	}
	cfg.Domain = defaultString(cfg.Domain, "xile.realm")
	if cfg.DECnet.Area == 0 {
		cfg.DECnet.Area = 1
	}
	if cfg.DECnet.Area < 1 || cfg.DECnet.Area > maxDECnetArea {
		return TargetConfig{}, fmt.Errorf("decnet area %d out of range 1..%d", cfg.DECnet.Area, maxDECnetArea)
	}
	if cfg.DECnet.Number == 0 {
		cfg.DECnet.Number = 13
	}
	if cfg.DECnet.Number < 1 || cfg.DECnet.Number > maxDECnetNumber {
		return TargetConfig{}, fmt.Errorf("decnet number %d out of range 1..%d", cfg.DECnet.Number, maxDECnetNumber)
	}
	cfg.TCPIP.GatewayAddress = defaultString(cfg.TCPIP.GatewayAddress, "192.168.0.201")
	cfg.TCPIP.GatewayHostname = defaultString(cfg.TCPIP.GatewayHostname, "wap.xile.realm")
	cfg.TCPIP.BindServer = defaultString(cfg.TCPIP.BindServer, "eagle.xile.realm")
	cfg.TCPIP.BindAddress = defaultString(cfg.TCPIP.BindAddress, "192.168.0.2")
	return cfg, nil
}

func defaultString(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
