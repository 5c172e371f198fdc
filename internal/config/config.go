// Package config loads the layered INI-like configuration described in
// spec.md §6 and holds it behind a GCO ("global config owner"), mirroring
// aistore's cmn.GCO: a single atomically-swapped *Config, injected into
// services rather than reached through package-level state (spec.md §9
// "Global mutable state").

package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/atomic"
	"gopkg.in/ini.v1"

	"github.com/ovirt/imageio-core/internal/logging"
)

// Config is the merged, typed view of every section relevant to the core
// (spec.md §6).
type Config struct {
	Daemon  DaemonConfig
	TLS     TLSConfig
	Backend BackendConfig
	Remote  RemoteConfig
	Local   LocalConfig
	Control ControlConfig
}

type DaemonConfig struct {
	PollInterval    time.Duration
	MaxConnections  int
	RunDir          string
	DropPrivileges  bool
	UserName        string
	GroupName       string
}

type TLSConfig struct {
	Enable        bool
	KeyFile       string
	CertFile      string
	CAFile        string
	EnableTLS1_1  bool
}

type BackendConfig struct {
	FileBufferSize int
	HTTPBufferSize int
	HTTPCAFile     string
	NBDBufferSize  int
}

type RemoteConfig struct {
	Host string
	Port int
}

type LocalConfig struct {
	Enable bool
	Socket string
}

type ControlConfig struct {
	Transport     string // "unix" | "tcp"
	Socket        string
	Port          int
	PreferIPv4    bool
	RemoveTimeout time.Duration
}

func defaults() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PollInterval:   30 * time.Second,
			MaxConnections: 10,
			RunDir:         "/run/imageio",
		},
		Backend: BackendConfig{
			FileBufferSize: 4 * 1024 * 1024,
			HTTPBufferSize: 4 * 1024 * 1024,
			NBDBufferSize:  4 * 1024 * 1024,
		},
		Remote: RemoteConfig{
			Host: "",
			Port: 54322,
		},
		Local: LocalConfig{
			Enable: true,
			Socket: "\x00/org/ovirt/imageio",
		},
		Control: ControlConfig{
			Transport:     "unix",
			Socket:        "/run/imageio/sock",
			RemoveTimeout: 60 * time.Second,
		},
	}
}

// Load reads vendorDir then userDir (each may hold multiple *.conf files),
// merging sections/keys by filename: a user file with the same name as a
// vendor file overrides it key by key, matching spec.md §6's "layered from
// a fixed vendor directory and a user override directory, merged by
// filename".
func Load(vendorDir, userDir string) (*Config, error) {
	cfg := defaults()

	names, err := mergedFilenames(vendorDir, userDir)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		file := ini.Empty()
		if p := filepath.Join(vendorDir, name); fileExists(p) {
			if err := file.Append(p); err != nil {
				return nil, err
			}
		}
		if p := filepath.Join(userDir, name); fileExists(p) {
			if err := file.Append(p); err != nil {
				return nil, err
			}
		}
		applySections(cfg, file)
	}

	return cfg, nil
}

func mergedFilenames(dirs ...string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			seen[e.Name()] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func applySections(cfg *Config, file *ini.File) {
	if s := file.Section("daemon"); s != nil {
		applyDuration(&cfg.Daemon.PollInterval, s, "poll_interval")
		applyInt(&cfg.Daemon.MaxConnections, s, "max_connections")
		applyString(&cfg.Daemon.RunDir, s, "run_dir")
		applyBool(&cfg.Daemon.DropPrivileges, s, "drop_privileges")
		applyString(&cfg.Daemon.UserName, s, "user_name")
		applyString(&cfg.Daemon.GroupName, s, "group_name")
	}
	if s := file.Section("tls"); s != nil {
		applyBool(&cfg.TLS.Enable, s, "enable")
		applyString(&cfg.TLS.KeyFile, s, "key_file")
		applyString(&cfg.TLS.CertFile, s, "cert_file")
		applyString(&cfg.TLS.CAFile, s, "ca_file")
		applyBool(&cfg.TLS.EnableTLS1_1, s, "enable_tls1_1")
	}
	if s := file.Section("backend_file"); s != nil {
		applyInt(&cfg.Backend.FileBufferSize, s, "buffer_size")
	}
	if s := file.Section("backend_http"); s != nil {
		applyInt(&cfg.Backend.HTTPBufferSize, s, "buffer_size")
		applyString(&cfg.Backend.HTTPCAFile, s, "ca_file")
	}
	if s := file.Section("backend_nbd"); s != nil {
		applyInt(&cfg.Backend.NBDBufferSize, s, "buffer_size")
	}
	if s := file.Section("remote"); s != nil {
		applyString(&cfg.Remote.Host, s, "host")
		applyInt(&cfg.Remote.Port, s, "port")
	}
	if s := file.Section("local"); s != nil {
		applyBool(&cfg.Local.Enable, s, "enable")
		applyString(&cfg.Local.Socket, s, "socket")
	}
	if s := file.Section("control"); s != nil {
		applyString(&cfg.Control.Transport, s, "transport")
		applyString(&cfg.Control.Socket, s, "socket")
		applyInt(&cfg.Control.Port, s, "port")
		applyBool(&cfg.Control.PreferIPv4, s, "prefer_ipv4")
		applyDuration(&cfg.Control.RemoveTimeout, s, "remove_timeout")
	}
}

func applyString(dst *string, s *ini.Section, key string) {
	if k, err := s.GetKey(key); err == nil {
		*dst = k.String()
	}
}

func applyInt(dst *int, s *ini.Section, key string) {
	if k, err := s.GetKey(key); err == nil {
		if v, err := k.Int(); err == nil {
			*dst = v
		}
	}
}

func applyBool(dst *bool, s *ini.Section, key string) {
	if k, err := s.GetKey(key); err == nil {
		if v, err := k.Bool(); err == nil {
			*dst = v
		}
	}
}

func applyDuration(dst *time.Duration, s *ini.Section, key string) {
	if k, err := s.GetKey(key); err == nil {
		if v, err := k.Int(); err == nil {
			*dst = time.Duration(v) * time.Second
		}
	}
}

// Validate enforces startup invariants from spec.md §4.7: TLS requires
// both cert_file and key_file, and ports are in [0, 65535].
func (c *Config) Validate() error {
	if c.TLS.Enable {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return errMissingTLSFiles
		}
	}
	for _, port := range []int{c.Remote.Port, c.Control.Port} {
		if port < 0 || port > 65535 {
			return errInvalidPort
		}
	}
	return nil
}

var (
	errMissingTLSFiles = configError("tls.enable requires both cert_file and key_file")
	errInvalidPort     = configError("port must be in [0, 65535]")
)

type configError string

func (e configError) Error() string { return string(e) }

// gco is the process-wide global config owner. It is a convenience default
// for cmd/imageiod; internal packages take *Config as an explicit
// parameter rather than reaching through gco, so tests can run a proxy and
// a daemon configuration side by side in one process (spec.md §9).
var gco atomic.Value

func Put(cfg *Config) {
	gco.Store(cfg)
}

func GetGlobal() *Config {
	v := gco.Load()
	if v == nil {
		logging.Warningf("config: GetGlobal called before Put; using defaults")
		return defaults()
	}
	return v.(*Config)
}
