package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fractal-analytics-platform/zroi/loader"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

const (
	// DefaultWebAddress is the default address of the zroi web server.
	DefaultWebAddress = "localhost:8000"

	// DefaultChunkCacheMB is the default size of the storage read cache.
	DefaultChunkCacheMB = 64
)

// Config is the TOML server configuration:
//
//	[server]
//	httpAddress = "localhost:8000"
//	corsDomains = ["https://napari.example.org"]
//	note = "Plates of the 2024 screen."
//
//	[logging]
//	logfile = "zroi.log"
//	max_log_size = 500 # MB
//	max_log_age = 30   # days
//
//	[loader]
//	cacheEntries = 16
//	chunkCacheMB = 64
//	origin = "reset"
//	roiTable = "FOV_ROI_table"
//
//	[store.plates]
//	ref = "gs://my-bucket/plates"
type Config struct {
	Server  serverConfig
	Logging zroi.LogConfig
	Loader  loaderConfig
	Store   map[string]storeConfig

	location string
}

type serverConfig struct {
	HTTPAddress string   `toml:"httpAddress"`
	CorsDomains []string `toml:"corsDomains"`
	Note        string   `toml:"note"`
}

type loaderConfig struct {
	CacheEntries int    `toml:"cacheEntries"`
	ChunkCacheMB *int   `toml:"chunkCacheMB"`
	Origin       string `toml:"origin"`
	RoiTable     string `toml:"roiTable"`
}

type storeConfig struct {
	Ref string `toml:"ref"`
}

// LoadConfig loads the server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := new(Config)
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	zroi.Infof("tomlConfig: %+v\n", *c)
	return c, nil
}

// Some settings can be given relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = zroi.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}

	// [store.foobar].ref when given as a file path
	for alias, sc := range c.Store {
		if sc.Ref == "" {
			return fmt.Errorf("store %q has no ref", alias)
		}
		if strings.Contains(sc.Ref, "://") {
			continue
		}
		if sc.Ref, err = zroi.ConvertToAbsolute(sc.Ref, configDir); err != nil {
			return fmt.Errorf("error converting store.%s.ref to absolute path: %q", alias, sc.Ref)
		}
		c.Store[alias] = sc
	}
	return nil
}

// Location returns the path of the loaded TOML file.
func (c *Config) Location() string {
	return c.location
}

// HTTPAddress returns the address the web server listens on.
func (c *Config) HTTPAddress() string {
	if c.Server.HTTPAddress == "" {
		return DefaultWebAddress
	}
	return c.Server.HTTPAddress
}

// Note returns the free-form server note, served at /api/server/note.
func (c *Config) Note() string {
	return c.Server.Note
}

// SetHTTPAddress overrides the configured address if addr is not empty.
func (c *Config) SetHTTPAddress(addr string) {
	if addr != "" {
		c.Server.HTTPAddress = addr
	}
}

// LoaderConfig returns the loader settings.
func (c *Config) LoaderConfig() (loader.Config, error) {
	lc := loader.DefaultConfig()
	if c.Loader.CacheEntries > 0 {
		lc.CacheEntries = c.Loader.CacheEntries
	}
	if c.Loader.RoiTable != "" {
		lc.DefaultTable = c.Loader.RoiTable
	}
	if c.Loader.Origin != "" {
		origin, err := roi.ParseOriginPolicy(c.Loader.Origin)
		if err != nil {
			return lc, err
		}
		lc.Origin = origin
	}
	return lc, nil
}

// OpenStorage returns a storage manager with every configured store mounted.
func (c *Config) OpenStorage(ctx context.Context) (*storage.Manager, error) {
	cacheMB := DefaultChunkCacheMB
	if c.Loader.ChunkCacheMB != nil {
		cacheMB = *c.Loader.ChunkCacheMB
	}
	mgr := storage.NewManager(cacheMB)
	aliases := make([]string, 0, len(c.Store))
	for alias := range c.Store {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if err := mgr.MountRef(ctx, alias, c.Store[alias].Ref); err != nil {
			mgr.Close()
			return nil, err
		}
	}
	return mgr, nil
}

// OpenServerStorage returns the storage manager of the web server.  It is
// OpenStorage limited to locations under the configured stores.
func (c *Config) OpenServerStorage(ctx context.Context) (*storage.Manager, error) {
	mgr, err := c.OpenStorage(ctx)
	if err != nil {
		return nil, err
	}
	if len(c.Store) == 0 {
		zroi.Warningf("No [store.<alias>] sections in %s: no location can be served.\n", c.location)
	}
	mgr.RestrictToMounts()
	return mgr, nil
}
