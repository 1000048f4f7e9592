package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"autoconsole/internal/global"
)

type Config struct {
	LibvirtURI  string
	Domain      string
	Profile     string
	ProfileFile string
	Transport   string
	WSURL       string
	SkipDomain  bool
	TmuxSocket  string
	KeepSession bool
	LogLevel    string
	ConfigDir   string
	DBPath      string
	Echo        bool
	StatePoll   time.Duration
	Password    string
}

const (
	TransportTmux      = "tmux"
	TransportWebSocket = "websocket"
)

func LoadConfig() Config {
	configDir := defaultConfigDir()
	transport := strings.ToLower(envOr("AUTOCONSOLE_TRANSPORT", TransportTmux))
	if transport != TransportWebSocket {
		transport = TransportTmux
	}
	poll := time.Second
	if v := strings.TrimSpace(os.Getenv("AUTOCONSOLE_STATE_POLL")); v != "" {
		// Malformed or non-positive values keep the default.
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			poll = d
		}
	}
	return Config{
		LibvirtURI:  envOr("AUTOCONSOLE_LIBVIRT_URI", "qemu:///system"),
		Domain:      envOr("AUTOCONSOLE_DOMAIN", "robin"),
		Profile:     envOr("AUTOCONSOLE_PROFILE", "community"),
		ProfileFile: strings.TrimSpace(os.Getenv("AUTOCONSOLE_PROFILE_FILE")),
		Transport:   transport,
		WSURL:       strings.TrimSpace(os.Getenv("AUTOCONSOLE_WS_URL")),
		SkipDomain:  os.Getenv("AUTOCONSOLE_NO_VIRSH") == "1",
		TmuxSocket:  strings.TrimSpace(os.Getenv("AUTOCONSOLE_TMUX_SOCKET")),
		KeepSession: os.Getenv("AUTOCONSOLE_KEEP_SESSION") == "1",
		LogLevel:    envOr("AUTOCONSOLE_LOG_LEVEL", "info"),
		ConfigDir:   configDir,
		DBPath:      envOr("AUTOCONSOLE_DB", filepath.Join(configDir, "autoconsole.db")),
		Echo:        os.Getenv("AUTOCONSOLE_ECHO") != "0",
		StatePoll:   poll,
		Password:    os.Getenv("VMS_PASSWORD"),
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultConfigDir() string {
	dir, err := global.DefaultConfigDir()
	if err != nil || dir == "" {
		return filepath.Clean(".autoconsole")
	}
	return dir
}
