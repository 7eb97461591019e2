// config.go - Broker configuration.
// Copyright (C) 2017  Yawning Angel, David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config implements the broker configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/protocol"
)

const (
	defaultAddress           = "127.0.0.1:8080"
	defaultLogLevel          = "NOTICE"
	defaultRequestTimeoutSec = 30
	defaultMaxRequestBytes   = 1 << 20

	// BackendBolt selects the embedded bbolt store.
	BackendBolt = "bolt"

	// BackendPostgres selects the Postgresql store.
	BackendPostgres = "postgres"

	defaultBoltFile       = "broker.db"
	defaultMaxConnections = 20

	defaultAuthTokenRatePerMinute    = 10
	defaultAuthTokenBurst            = 5
	defaultConnectTokenRatePerMinute = 60
	defaultConnectTokenBurst         = 20
	defaultAuthTokenLifetimeSec      = 30 * 24 * 60 * 60
	defaultLimiterCacheSize          = 100000
	defaultPruneIntervalSec          = 60 * 60

	defaultCatalogCacheTTLSec = 10

	defaultBridgeTimeoutSec = 10
	defaultRouteCacheTTLSec = 60
	defaultRouteCacheSize   = 10000

	defaultMaxEpochSkew = 1
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the broker server configuration.
type Server struct {
	// Addresses are the IP address/port combinations that the RPC server
	// will bind to for incoming connections.
	Addresses []string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// MetricsAddress is the address/port to serve Prometheus metrics on,
	// if set.
	MetricsAddress string

	// RequestTimeoutSec bounds the handling of a single RPC request.
	RequestTimeoutSec int

	// MaxRequestBytes is the largest RPC request body accepted.
	MaxRequestBytes int64
}

func (sCfg *Server) validate() error {
	if len(sCfg.Addresses) == 0 {
		sCfg.Addresses = []string{defaultAddress}
	}
	for _, v := range sCfg.Addresses {
		if err := validateAddress(v); err != nil {
			return fmt.Errorf("config: Server: Address '%v' is invalid: %v", v, err)
		}
	}
	if sCfg.MetricsAddress != "" {
		if err := validateAddress(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.RequestTimeoutSec < 0 || sCfg.MaxRequestBytes < 0 {
		return errors.New("config: Server: negative limits are invalid")
	}
	return nil
}

func (sCfg *Server) applyDefaults() {
	if sCfg.RequestTimeoutSec == 0 {
		sCfg.RequestTimeoutSec = defaultRequestTimeoutSec
	}
	if sCfg.MaxRequestBytes == 0 {
		sCfg.MaxRequestBytes = defaultMaxRequestBytes
	}
}

// Logging is the broker logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Secrets holds the secrets shared with relay operators.
type Secrets struct {
	// ExitToken authenticates exit registrations.
	ExitToken string

	// BridgeToken authenticates bridge registrations.
	BridgeToken string
}

func (sCfg *Secrets) validate() error {
	if sCfg.ExitToken == "" {
		return errors.New("config: Secrets: ExitToken is not set")
	}
	if sCfg.BridgeToken == "" {
		return errors.New("config: Secrets: BridgeToken is not set")
	}
	if sCfg.ExitToken == sCfg.BridgeToken {
		return errors.New("config: Secrets: ExitToken and BridgeToken must differ")
	}
	return nil
}

// Database is the broker storage configuration.
type Database struct {
	// Backend is one of "bolt" (the default) or "postgres".
	Backend string

	// PostgresURL is the Postgresql connection string.
	PostgresURL string

	// MaxConnections is the Postgresql connection pool size.
	MaxConnections int

	// BoltFile is the bbolt database file, relative to DataDir unless
	// absolute.
	BoltFile string
}

func (dCfg *Database) validate() error {
	switch dCfg.Backend {
	case "", BackendBolt:
		dCfg.Backend = BackendBolt
	case BackendPostgres:
		if dCfg.PostgresURL == "" {
			return errors.New("config: Database: PostgresURL is not set")
		}
	default:
		return fmt.Errorf("config: Database: Backend '%v' is invalid", dCfg.Backend)
	}
	return nil
}

func (dCfg *Database) applyDefaults(dataDir string) {
	if dCfg.BoltFile == "" {
		dCfg.BoltFile = defaultBoltFile
	}
	if !filepath.IsAbs(dCfg.BoltFile) {
		dCfg.BoltFile = filepath.Join(dataDir, dCfg.BoltFile)
	}
	if dCfg.MaxConnections == 0 {
		dCfg.MaxConnections = defaultMaxConnections
	}
}

// Tokens is the bearer token issuance configuration.
type Tokens struct {
	// AuthTokenRatePerMinute is the sustained rate at which a single user
	// may obtain bearer tokens.
	AuthTokenRatePerMinute float64

	// AuthTokenBurst is how many bearer tokens a user may obtain at once.
	AuthTokenBurst int

	// ConnectTokenRatePerMinute is the sustained rate at which a single
	// user may obtain blind signatures.
	ConnectTokenRatePerMinute float64

	// ConnectTokenBurst is how many blind signatures a user may obtain
	// at once.
	ConnectTokenBurst int

	// AuthTokenLifetimeSec is how long a bearer token stays valid.
	AuthTokenLifetimeSec int

	// LimiterCacheSize bounds the number of users tracked by each
	// rate limiter.
	LimiterCacheSize int

	// PruneIntervalSec is how often expired bearer tokens are deleted.
	PruneIntervalSec int
}

func (tCfg *Tokens) validate() error {
	if tCfg.AuthTokenRatePerMinute < 0 || tCfg.ConnectTokenRatePerMinute < 0 {
		return errors.New("config: Tokens: rates must not be negative")
	}
	if tCfg.AuthTokenBurst < 0 || tCfg.ConnectTokenBurst < 0 {
		return errors.New("config: Tokens: bursts must not be negative")
	}
	if tCfg.AuthTokenLifetimeSec < 0 || tCfg.PruneIntervalSec < 0 || tCfg.LimiterCacheSize < 0 {
		return errors.New("config: Tokens: negative limits are invalid")
	}
	return nil
}

func (tCfg *Tokens) applyDefaults() {
	if tCfg.AuthTokenRatePerMinute == 0 {
		tCfg.AuthTokenRatePerMinute = defaultAuthTokenRatePerMinute
	}
	if tCfg.AuthTokenBurst == 0 {
		tCfg.AuthTokenBurst = defaultAuthTokenBurst
	}
	if tCfg.ConnectTokenRatePerMinute == 0 {
		tCfg.ConnectTokenRatePerMinute = defaultConnectTokenRatePerMinute
	}
	if tCfg.ConnectTokenBurst == 0 {
		tCfg.ConnectTokenBurst = defaultConnectTokenBurst
	}
	if tCfg.AuthTokenLifetimeSec == 0 {
		tCfg.AuthTokenLifetimeSec = defaultAuthTokenLifetimeSec
	}
	if tCfg.LimiterCacheSize == 0 {
		tCfg.LimiterCacheSize = defaultLimiterCacheSize
	}
	if tCfg.PruneIntervalSec == 0 {
		tCfg.PruneIntervalSec = defaultPruneIntervalSec
	}
}

// Catalog is the exit catalog configuration.
type Catalog struct {
	// CacheTTLSec is how long a signed catalog is served before it is
	// rebuilt.
	CacheTTLSec int

	// CityNamesFile optionally replaces the built in YAML table of
	// country codes to city names.
	CityNamesFile string
}

func (cCfg *Catalog) validate() error {
	if cCfg.CacheTTLSec < 0 {
		return errors.New("config: Catalog: CacheTTLSec must not be negative")
	}
	if cCfg.CityNamesFile != "" && !filepath.IsAbs(cCfg.CityNamesFile) {
		return fmt.Errorf("config: Catalog: CityNamesFile '%v' is not an absolute path", cCfg.CityNamesFile)
	}
	return nil
}

func (cCfg *Catalog) applyDefaults() {
	if cCfg.CacheTTLSec == 0 {
		cCfg.CacheTTLSec = defaultCatalogCacheTTLSec
	}
}

// Routes is the route assembly configuration.
type Routes struct {
	// PlusOnlyPools lists bridge pools that are never offered to Free
	// accounts.
	PlusOnlyPools []string

	// BridgeTimeoutSec bounds each request to a bridge control endpoint.
	BridgeTimeoutSec int

	// RouteCacheTTLSec is how long a bridge's route to an exit is reused.
	RouteCacheTTLSec int

	// RouteCacheSize bounds the number of cached bridge routes.
	RouteCacheSize int
}

func (rCfg *Routes) validate() error {
	if rCfg.BridgeTimeoutSec < 0 || rCfg.RouteCacheTTLSec < 0 || rCfg.RouteCacheSize < 0 {
		return errors.New("config: Routes: negative limits are invalid")
	}
	for _, v := range rCfg.PlusOnlyPools {
		if v == "" {
			return errors.New("config: Routes: PlusOnlyPools contains an empty pool")
		}
	}
	return nil
}

func (rCfg *Routes) applyDefaults() {
	if rCfg.BridgeTimeoutSec == 0 {
		rCfg.BridgeTimeoutSec = defaultBridgeTimeoutSec
	}
	if rCfg.RouteCacheTTLSec == 0 {
		rCfg.RouteCacheTTLSec = defaultRouteCacheTTLSec
	}
	if rCfg.RouteCacheSize == 0 {
		rCfg.RouteCacheSize = defaultRouteCacheSize
	}
}

// Keys is the blind signing key configuration.
type Keys struct {
	// SubkeyBits is the RSA modulus size of per-epoch subkeys.
	SubkeyBits int

	// MaxEpochSkew is how many epochs away from the current one a
	// credential may be and still be accepted.  0 accepts the current
	// epoch only, negative values disable the check, and leaving it unset
	// allows a single epoch of skew.
	MaxEpochSkew *int
}

// EpochSkew returns the configured MaxEpochSkew, and may only be called
// on a validated config.
func (kCfg *Keys) EpochSkew() int {
	return *kCfg.MaxEpochSkew
}

func (kCfg *Keys) validate() error {
	if kCfg.SubkeyBits != 0 && (kCfg.SubkeyBits < blindsig.MinSubkeyBits || kCfg.SubkeyBits%16 != 0) {
		return fmt.Errorf("config: Keys: SubkeyBits %v is invalid", kCfg.SubkeyBits)
	}
	return nil
}

func (kCfg *Keys) applyDefaults() {
	if kCfg.SubkeyBits == 0 {
		kCfg.SubkeyBits = blindsig.DefaultSubkeyBits
	}
	if kCfg.MaxEpochSkew == nil {
		skew := defaultMaxEpochSkew
		kCfg.MaxEpochSkew = &skew
	}
}

// Debug is the debug configuration.
type Debug struct {
	// GenerateOnly halts and cleans up the server right after long term
	// key generation.
	GenerateOnly bool
}

// Config is the top level broker configuration.
type Config struct {
	Server   *Server
	Logging  *Logging
	Secrets  *Secrets
	Database *Database
	Tokens   *Tokens
	Catalog  *Catalog
	Routes   *Routes
	Keys     *Keys
	Debug    *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate(forceGenOnly bool) error {
	// Handle missing sections if possible.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}
	if cfg.Secrets == nil {
		cfg.Secrets = &Secrets{}
	}
	if cfg.Database == nil {
		cfg.Database = &Database{}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = &Tokens{}
	}
	if cfg.Catalog == nil {
		cfg.Catalog = &Catalog{}
	}
	if cfg.Routes == nil {
		cfg.Routes = &Routes{}
	}
	if cfg.Keys == nil {
		cfg.Keys = &Keys{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	// Validate and fixup the various sections.
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if !forceGenOnly {
		if err := cfg.Secrets.validate(); err != nil {
			return err
		}
	}
	if err := cfg.Database.validate(); err != nil {
		return err
	}
	if err := cfg.Tokens.validate(); err != nil {
		return err
	}
	if err := cfg.Catalog.validate(); err != nil {
		return err
	}
	if err := cfg.Routes.validate(); err != nil {
		return err
	}
	if err := cfg.Keys.validate(); err != nil {
		return err
	}
	cfg.Server.applyDefaults()
	cfg.Database.applyDefaults(cfg.Server.DataDir)
	cfg.Tokens.applyDefaults()
	cfg.Catalog.applyDefaults()
	cfg.Routes.applyDefaults()
	cfg.Keys.applyDefaults()

	return nil
}

// IsPlusOnlyPool returns true iff pool is never offered to Free accounts.
func (cfg *Config) IsPlusOnlyPool(pool string) bool {
	for _, v := range cfg.Routes.PlusOnlyPools {
		if v == pool {
			return true
		}
	}
	return false
}

// MacKeys returns the exit and bridge registration MAC keys.
func (cfg *Config) MacKeys() (exit, bridge [protocol.MacKeySize]byte) {
	return protocol.MacKey(cfg.Secrets.ExitToken), protocol.MacKey(cfg.Secrets.BridgeToken)
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte, forceGenOnly bool) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(forceGenOnly); err != nil {
		return nil, err
	}

	if forceGenOnly {
		cfg.Debug.GenerateOnly = true
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string, forceGenOnly bool) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, forceGenOnly)
}

func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return errors.New("must contain a port")
	}
	return nil
}
