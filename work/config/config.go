package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"radio-relay/work/logger"
	"radio-relay/work/utils"
)

const (
	// DefaultConfigPath is used when RADIO_CONFIG is not set
	DefaultConfigPath = "/settings/config.json"

	// ChromeUserAgent is presented to stream hosts so they serve the same bytes a browser gets
	ChromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds all runtime settings for the relay service.
// Durations are real time.Duration values; the JSON file stores them as strings.
type Config struct {
	ListenAddr    string          `json:"listenAddr"`    // Address the HTTP server binds to
	LogLevel      string          `json:"logLevel"`      // DEBUG, INFO, WARN or ERROR
	Debug         bool            `json:"debug"`         // Forces DEBUG logging
	ObfuscateUrls bool            `json:"obfuscateUrls"` // Mask stream URLs in log lines
	Directory     DirectoryConfig `json:"directory"`     // Station directory lookups
	Relay         RelayConfig     `json:"relay"`         // Stream relaying
	Metadata      MetadataConfig  `json:"metadata"`      // ICY "now playing" harvesting
	Player        PlayerConfig    `json:"player"`        // Remote media player control
	Favorites     FavoritesConfig `json:"favorites"`     // Favorites store
}

// DirectoryConfig covers server discovery, the query cache and the search client.
type DirectoryConfig struct {
	SRVService        string        `json:"srvService"`        // SRV service label, "api"
	SRVProto          string        `json:"srvProto"`          // SRV protocol label, "tcp"
	SRVDomain         string        `json:"srvDomain"`         // domain queried for SRV records
	FallbackServers   []string      `json:"fallbackServers"`   // used when SRV resolution fails
	RefreshInterval   time.Duration `json:"refreshInterval"`   // age after which the server pool is re-resolved
	LookupTimeout     time.Duration `json:"lookupTimeout"`     // bound on a single SRV lookup
	CacheTTL          time.Duration `json:"cacheTTL"`          // global query cache lifetime
	RequestTimeout    time.Duration `json:"requestTimeout"`    // bound on a single directory request
	MaxRetries        int           `json:"maxRetries"`        // retries after the first failed request
	RequestsPerSecond int           `json:"requestsPerSecond"` // outbound request rate toward the directory
	UserAgent         string        `json:"userAgent"`         // User-Agent sent to the directory
	DefaultLimit      int           `json:"defaultLimit"`      // page size when the caller gives none
}

// RelayConfig covers the stream relay and its socket fallback.
type RelayConfig struct {
	UserAgent             string        `json:"userAgent"`             // User-Agent on the primary HTTP path
	FallbackUserAgent     string        `json:"fallbackUserAgent"`     // User-Agent on the raw socket path
	ConnectTimeout        time.Duration `json:"connectTimeout"`        // dial bound on both paths
	ResponseHeaderTimeout time.Duration `json:"responseHeaderTimeout"` // wait for upstream headers on the HTTP path
	MaxRedirects          int           `json:"maxRedirects"`          // redirect hops followed on the HTTP path
	MaxRelays             int           `json:"maxRelays"`             // concurrent listeners allowed
	AllowPrivateNetworks  bool          `json:"allowPrivateNetworks"`  // disables the private address guard
	ResolvePlaylists      bool          `json:"resolvePlaylists"`      // open the first PLS/M3U entry instead of forwarding the playlist
}

// MetadataConfig covers ICY title harvesting.
type MetadataConfig struct {
	Timeout  time.Duration `json:"timeout"`  // hard bound on one harvest
	CacheTTL time.Duration `json:"cacheTTL"` // how long a harvested title is reused
	Workers  int           `json:"workers"`  // concurrent harvests
}

// PlayerConfig covers the remote player and its watchdog.
type PlayerConfig struct {
	Enabled          bool          `json:"enabled"`          // expose the player API
	BaseURL          string        `json:"baseURL"`          // player HTTP interface root, ends with "/"
	Username         string        `json:"-"`                // taken from the environment only
	Password         string        `json:"-"`                // taken from the environment only
	RequestTimeout   time.Duration `json:"requestTimeout"`   // bound on a single player command
	WatchdogInterval time.Duration `json:"watchdogInterval"` // watchdog poll period
	Spawn            bool          `json:"spawn"`            // start the player process ourselves
	Binary           string        `json:"binary"`           // player executable when spawning
	HTTPPort         int           `json:"httpPort"`         // port passed to a spawned player
}

// FavoritesConfig covers the favorites database.
type FavoritesConfig struct {
	DatabasePath string `json:"databasePath"` // sqlite file path
}

// ConfigFile is the on-disk JSON layout. Durations are strings such as "24h" or "5s".
type ConfigFile struct {
	ListenAddr    string              `json:"listenAddr"`
	LogLevel      string              `json:"logLevel"`
	Debug         bool                `json:"debug"`
	ObfuscateUrls bool                `json:"obfuscateUrls"`
	Directory     DirectoryConfigFile `json:"directory"`
	Relay         RelayConfigFile     `json:"relay"`
	Metadata      MetadataConfigFile  `json:"metadata"`
	Player        PlayerConfigFile    `json:"player"`
	Favorites     FavoritesConfig     `json:"favorites"`
}

// DirectoryConfigFile is the JSON form of DirectoryConfig.
type DirectoryConfigFile struct {
	SRVService        string   `json:"srvService"`
	SRVProto          string   `json:"srvProto"`
	SRVDomain         string   `json:"srvDomain"`
	FallbackServers   []string `json:"fallbackServers"`
	RefreshInterval   string   `json:"refreshInterval"`
	LookupTimeout     string   `json:"lookupTimeout"`
	CacheTTL          string   `json:"cacheTTL"`
	RequestTimeout    string   `json:"requestTimeout"`
	MaxRetries        int      `json:"maxRetries"`
	RequestsPerSecond int      `json:"requestsPerSecond"`
	UserAgent         string   `json:"userAgent"`
	DefaultLimit      int      `json:"defaultLimit"`
}

// RelayConfigFile is the JSON form of RelayConfig.
type RelayConfigFile struct {
	UserAgent             string `json:"userAgent"`
	FallbackUserAgent     string `json:"fallbackUserAgent"`
	ConnectTimeout        string `json:"connectTimeout"`
	ResponseHeaderTimeout string `json:"responseHeaderTimeout"`
	MaxRedirects          int    `json:"maxRedirects"`
	MaxRelays             int    `json:"maxRelays"`
	AllowPrivateNetworks  bool   `json:"allowPrivateNetworks"`
	ResolvePlaylists      bool   `json:"resolvePlaylists"`
}

// MetadataConfigFile is the JSON form of MetadataConfig.
type MetadataConfigFile struct {
	Timeout  string `json:"timeout"`
	CacheTTL string `json:"cacheTTL"`
	Workers  int    `json:"workers"`
}

// PlayerConfigFile is the JSON form of PlayerConfig.
type PlayerConfigFile struct {
	Enabled          bool   `json:"enabled"`
	BaseURL          string `json:"baseURL"`
	RequestTimeout   string `json:"requestTimeout"`
	WatchdogInterval string `json:"watchdogInterval"`
	Spawn            bool   `json:"spawn"`
	Binary           string `json:"binary"`
	HTTPPort         int    `json:"httpPort"`
}

var (
	configCache *Config      // cached configuration instance
	configMutex sync.RWMutex // guards configCache
)

// LoadConfig loads the configuration once and returns the cached instance afterwards.
//
// Process:
//   - loads a .env file from the working directory when present
//   - reads the JSON file named by RADIO_CONFIG, or DefaultConfigPath
//   - falls back to defaults when the file is missing or invalid
//   - applies environment overrides and validation
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// double-check under the write lock
	if configCache != nil {
		return configCache
	}

	// player credentials usually live in a .env file next to the binary
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("{config - LoadConfig} failed to load .env file: %v", err)
	}

	configPath := os.Getenv("RADIO_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		logger.Warn("{config - LoadConfig} failed to load config from %s: %v", configPath, err)
		logger.Warn("{config - LoadConfig} falling back to default configuration")
		cfg = getDefaultConfig()
	}

	applyEnv(cfg)
	validateAndSetDefaults(cfg)

	configCache = cfg

	if cfg.Debug {
		logger.Debug("{config - LoadConfig} configuration loaded from %s", configPath)
		logger.Debug("{config - LoadConfig}   listen: %s", cfg.ListenAddr)
		logger.Debug("{config - LoadConfig}   srv: _%s._%s.%s", cfg.Directory.SRVService, cfg.Directory.SRVProto, cfg.Directory.SRVDomain)
		logger.Debug("{config - LoadConfig}   player: enabled=%v url=%s", cfg.Player.Enabled, utils.LogURLWithFlag(cfg.ObfuscateUrls, cfg.Player.BaseURL))
	}

	return cfg
}

// LoadFromFile reads and converts the JSON config at path.
// Validation and environment overrides are left to the caller.
func LoadFromFile(path string) (*Config, error) {

	// read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the file layout
	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

// parseDuration accepts an empty string as "unset" so defaults can fill it later
func parseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		ListenAddr:    cf.ListenAddr,
		LogLevel:      cf.LogLevel,
		Debug:         cf.Debug,
		ObfuscateUrls: cf.ObfuscateUrls,
		Directory: DirectoryConfig{
			SRVService:        cf.Directory.SRVService,
			SRVProto:          cf.Directory.SRVProto,
			SRVDomain:         cf.Directory.SRVDomain,
			FallbackServers:   cf.Directory.FallbackServers,
			MaxRetries:        cf.Directory.MaxRetries,
			RequestsPerSecond: cf.Directory.RequestsPerSecond,
			UserAgent:         cf.Directory.UserAgent,
			DefaultLimit:      cf.Directory.DefaultLimit,
		},
		Relay: RelayConfig{
			UserAgent:            cf.Relay.UserAgent,
			FallbackUserAgent:    cf.Relay.FallbackUserAgent,
			MaxRedirects:         cf.Relay.MaxRedirects,
			MaxRelays:            cf.Relay.MaxRelays,
			AllowPrivateNetworks: cf.Relay.AllowPrivateNetworks,
			ResolvePlaylists:     cf.Relay.ResolvePlaylists,
		},
		Metadata: MetadataConfig{
			Workers: cf.Metadata.Workers,
		},
		Player: PlayerConfig{
			Enabled:  cf.Player.Enabled,
			BaseURL:  cf.Player.BaseURL,
			Spawn:    cf.Player.Spawn,
			Binary:   cf.Player.Binary,
			HTTPPort: cf.Player.HTTPPort,
		},
		Favorites: cf.Favorites,
	}

	// parse the duration fields, each into its destination
	durations := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"directory.refreshInterval", cf.Directory.RefreshInterval, &cfg.Directory.RefreshInterval},
		{"directory.lookupTimeout", cf.Directory.LookupTimeout, &cfg.Directory.LookupTimeout},
		{"directory.cacheTTL", cf.Directory.CacheTTL, &cfg.Directory.CacheTTL},
		{"directory.requestTimeout", cf.Directory.RequestTimeout, &cfg.Directory.RequestTimeout},
		{"relay.connectTimeout", cf.Relay.ConnectTimeout, &cfg.Relay.ConnectTimeout},
		{"relay.responseHeaderTimeout", cf.Relay.ResponseHeaderTimeout, &cfg.Relay.ResponseHeaderTimeout},
		{"metadata.timeout", cf.Metadata.Timeout, &cfg.Metadata.Timeout},
		{"metadata.cacheTTL", cf.Metadata.CacheTTL, &cfg.Metadata.CacheTTL},
		{"player.requestTimeout", cf.Player.RequestTimeout, &cfg.Player.RequestTimeout},
		{"player.watchdogInterval", cf.Player.WatchdogInterval, &cfg.Player.WatchdogInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.name, d.value)
		if err != nil {
			return nil, err
		}
		*d.dest = v
	}

	return cfg, nil
}

// applyEnv copies out-of-band settings from the environment.
// Player credentials are never read from the JSON file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RADIO_PLAYER_URL"); v != "" {
		cfg.Player.BaseURL = v
	}
	if v := os.Getenv("RADIO_PLAYER_USERNAME"); v != "" {
		cfg.Player.Username = v
	}
	if v := os.Getenv("RADIO_PLAYER_PASSWORD"); v != "" {
		cfg.Player.Password = v
	}
	if v := os.Getenv("RADIO_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RADIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// getDefaultConfig returns the baseline configuration used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "INFO",
		Directory: DirectoryConfig{
			SRVService: "api",
			SRVProto:   "tcp",
			SRVDomain:  "radio-browser.info",
			FallbackServers: []string{
				"de1.api.radio-browser.info",
				"nl1.api.radio-browser.info",
				"at1.api.radio-browser.info",
			},
			RefreshInterval:   time.Hour,
			LookupTimeout:     5 * time.Second,
			CacheTTL:          24 * time.Hour,
			RequestTimeout:    10 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 10,
			UserAgent:         "InternetRadioApp/1.0",
			DefaultLimit:      24,
		},
		Relay: RelayConfig{
			UserAgent:             ChromeUserAgent,
			FallbackUserAgent:     "Mozilla/5.0",
			ConnectTimeout:        10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxRedirects:          10,
			MaxRelays:             100,
		},
		Metadata: MetadataConfig{
			Timeout:  time.Second,
			CacheTTL: 4 * time.Second,
			Workers:  16,
		},
		Player: PlayerConfig{
			BaseURL:          "http://127.0.0.1:9090/requests/",
			RequestTimeout:   3 * time.Second,
			WatchdogInterval: 5 * time.Second,
			Binary:           "vlc",
			HTTPPort:         9090,
		},
		Favorites: FavoritesConfig{
			DatabasePath: "/settings/favorites.db",
		},
	}
}

// validateAndSetDefaults fills every unset or invalid value from the defaults.
func validateAndSetDefaults(cfg *Config) {
	def := getDefaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.Debug {
		cfg.LogLevel = "DEBUG"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	// directory
	d := &cfg.Directory
	if d.SRVService == "" {
		d.SRVService = def.Directory.SRVService
	}
	if d.SRVProto == "" {
		d.SRVProto = def.Directory.SRVProto
	}
	if d.SRVDomain == "" {
		d.SRVDomain = def.Directory.SRVDomain
	}
	if len(d.FallbackServers) == 0 {
		d.FallbackServers = def.Directory.FallbackServers
	}
	if d.RefreshInterval <= 0 {
		d.RefreshInterval = def.Directory.RefreshInterval
	}
	if d.LookupTimeout <= 0 {
		d.LookupTimeout = def.Directory.LookupTimeout
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = def.Directory.CacheTTL
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = def.Directory.RequestTimeout
	}
	if d.MaxRetries < 0 {
		d.MaxRetries = def.Directory.MaxRetries
	}
	if d.RequestsPerSecond <= 0 {
		d.RequestsPerSecond = def.Directory.RequestsPerSecond
	}
	if d.UserAgent == "" {
		d.UserAgent = def.Directory.UserAgent
	}
	if d.DefaultLimit <= 0 {
		d.DefaultLimit = def.Directory.DefaultLimit
	}

	// relay
	r := &cfg.Relay
	if r.UserAgent == "" {
		r.UserAgent = def.Relay.UserAgent
	}
	if r.FallbackUserAgent == "" {
		r.FallbackUserAgent = def.Relay.FallbackUserAgent
	}
	if r.ConnectTimeout <= 0 {
		r.ConnectTimeout = def.Relay.ConnectTimeout
	}
	if r.ResponseHeaderTimeout <= 0 {
		r.ResponseHeaderTimeout = def.Relay.ResponseHeaderTimeout
	}
	if r.MaxRedirects <= 0 {
		r.MaxRedirects = def.Relay.MaxRedirects
	}
	if r.MaxRelays <= 0 {
		r.MaxRelays = def.Relay.MaxRelays
	}

	// metadata
	m := &cfg.Metadata
	if m.Timeout <= 0 {
		m.Timeout = def.Metadata.Timeout
	}
	if m.CacheTTL <= 0 {
		m.CacheTTL = def.Metadata.CacheTTL
	}
	if m.Workers <= 0 {
		m.Workers = def.Metadata.Workers
	}

	// player
	p := &cfg.Player
	if p.BaseURL == "" {
		p.BaseURL = def.Player.BaseURL
	}
	if !strings.HasSuffix(p.BaseURL, "/") {
		p.BaseURL += "/"
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = def.Player.RequestTimeout
	}
	if p.WatchdogInterval <= 0 {
		p.WatchdogInterval = def.Player.WatchdogInterval
	}
	if p.Binary == "" {
		p.Binary = def.Player.Binary
	}
	if p.HTTPPort <= 0 {
		p.HTTPPort = def.Player.HTTPPort
	}

	if cfg.Favorites.DatabasePath == "" {
		cfg.Favorites.DatabasePath = def.Favorites.DatabasePath
	}
}

// Defaults returns a validated default configuration, used by tests and tooling.
func Defaults() *Config {
	cfg := getDefaultConfig()
	validateAndSetDefaults(cfg)
	return cfg
}

// CreateExampleConfig writes an example config file to path.
//
// Parameters:
//   - path: file path to write the example config
//
// Returns:
//   - error: if marshaling or writing fails
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenAddr:    ":8080",
		LogLevel:      "INFO",
		ObfuscateUrls: true,
		Directory: DirectoryConfigFile{
			SRVService:        "api",
			SRVProto:          "tcp",
			SRVDomain:         "radio-browser.info",
			FallbackServers:   []string{"de1.api.radio-browser.info", "nl1.api.radio-browser.info", "at1.api.radio-browser.info"},
			RefreshInterval:   "1h",
			LookupTimeout:     "5s",
			CacheTTL:          "24h",
			RequestTimeout:    "10s",
			MaxRetries:        3,
			RequestsPerSecond: 10,
			UserAgent:         "InternetRadioApp/1.0",
			DefaultLimit:      24,
		},
		Relay: RelayConfigFile{
			UserAgent:             ChromeUserAgent,
			FallbackUserAgent:     "Mozilla/5.0",
			ConnectTimeout:        "10s",
			ResponseHeaderTimeout: "15s",
			MaxRedirects:          10,
			MaxRelays:             100,
		},
		Metadata: MetadataConfigFile{
			Timeout:  "1s",
			CacheTTL: "4s",
			Workers:  16,
		},
		Player: PlayerConfigFile{
			Enabled:          true,
			BaseURL:          "http://127.0.0.1:9090/requests/",
			RequestTimeout:   "3s",
			WatchdogInterval: "5s",
			Spawn:            true,
			Binary:           "vlc",
			HTTPPort:         9090,
		},
		Favorites: FavoritesConfig{
			DatabasePath: "/settings/favorites.db",
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache drops the cached configuration so the next LoadConfig re-reads it.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
