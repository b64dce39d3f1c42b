// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/anonsend/anond/internal/mnsign"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/anonsend/anond/internal/sampleconfig"
	"github.com/anonsend/anond/internal/version"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/decred/go-socks/socks"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename  = "anond.conf"
	defaultDataDirname     = "data"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "anond.log"
	defaultLogLevel        = "info"
	defaultLogSize         = 10 * 1024
	defaultMaxLogRolls     = 3
	defaultMaxPeers        = 125
	defaultBanDuration     = time.Hour * 24
	defaultBanThreshold    = 100
	defaultDialTimeout     = time.Second * 30
	defaultAnonSendRounds  = 2
	defaultAnonymizeAmount = 1000
	defaultCacheFlushSpec  = "@every 15m"

	minAnonSendRounds  = 1
	maxAnonSendRounds  = 16
	minAnonymizeAmount = 2
	maxAnonymizeAmount = 999999
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("anond", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)

	dcrdHomeDir          = dcrutil.AppDataDir("dcrd", false)
	dcrwalletHomeDir     = dcrutil.AppDataDir("dcrwallet", false)
	defaultDcrdRPCCert   = filepath.Join(dcrdHomeDir, "rpc.cert")
	defaultWalletRPCCert = filepath.Join(dcrwalletHomeDir, "rpc.cert")
)

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not
// caused by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// config defines the configuration options for anond.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	HomeDir       string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string `short:"b" long:"datadir" description:"Directory to store the masternode and payment caches"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	LogSize       int64  `long:"logsize" description:"Maximum size in KiB of a log file before it is rotated"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network selection.
	TestNet bool `long:"testnet" description:"Use the test network"`
	SimNet  bool `long:"simnet" description:"Use the simulation test network"`
	RegNet  bool `long:"regnet" description:"Use the regression test network"`

	// Peer to peer networking.
	Listeners         []string      `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 9108, testnet: 19108)"`
	DisableListen     bool          `long:"nolisten" description:"Disable listening for incoming connections"`
	AddPeers          []string      `short:"a" long:"addpeer" description:"Add a peer to connect with at startup"`
	ConnectPeers      []string      `long:"connect" description:"Connect only to the specified peers at startup"`
	MaxPeers          int           `long:"maxpeers" description:"Max number of inbound and outbound peers"`
	DialTimeout       time.Duration `long:"dialtimeout" description:"How long to wait for TCP connection completion"`
	Proxy             string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser         string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass         string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	DisableBanning    bool          `long:"nobanning" description:"Disable banning of misbehaving peers"`
	BanDuration       time.Duration `long:"banduration" description:"How long to ban misbehaving peers.  Valid time units are {s, m, h}.  Minimum 1 second"`
	BanThreshold      uint32        `long:"banthreshold" description:"Maximum allowed ban score before disconnecting and banning misbehaving peers."`
	Whitelists        []string      `long:"whitelist" description:"Add an IP network or IP that will not be banned. (eg. 192.168.1.0/24 or ::1)"`
	AllowPrivatePeers bool          `long:"allowprivatepeers" description:"Accept masternodes on private addresses and non-default ports"`

	// Chain and wallet backends.
	DcrdRPCServer   string `long:"dcrdrpcserver" description:"Hostname/IP and port of the dcrd RPC server"`
	DcrdRPCUser     string `long:"dcrdrpcuser" description:"dcrd RPC username"`
	DcrdRPCPass     string `long:"dcrdrpcpass" default-mask:"-" description:"dcrd RPC password"`
	DcrdRPCCert     string `long:"dcrdrpccert" description:"dcrd RPC server certificate chain for validation"`
	NoDcrdTLS       bool   `long:"nodcrdtls" description:"Disable TLS for the dcrd RPC connection"`
	WalletRPCServer string `long:"walletrpcserver" description:"Hostname/IP and port of the wallet RPC server (leave empty to run without a wallet)"`
	WalletRPCUser   string `long:"walletrpcuser" description:"Wallet RPC username"`
	WalletRPCPass   string `long:"walletrpcpass" default-mask:"-" description:"Wallet RPC password"`
	WalletRPCCert   string `long:"walletrpccert" description:"Wallet RPC server certificate chain for validation"`
	NoWalletTLS     bool   `long:"nowallettls" description:"Disable TLS for the wallet RPC connection"`

	// Masternode.
	Masternode        bool   `long:"masternode" description:"Run a masternode"`
	MasternodePrivKey string `long:"masternodeprivkey" default-mask:"-" description:"WIF encoded hot key of the masternode"`
	MasternodeAddr    string `long:"masternodeaddr" description:"Public address:port announced for the masternode"`
	CacheFlushSpec    string `long:"cacheflushspec" description:"Cron spec for periodic masternode and payment cache writes"`

	// Mixing.
	AnonSend          bool    `long:"anonsend" description:"Mix wallet funds through masternode sessions"`
	AnonSendRounds    int     `long:"anonsendrounds" description:"Number of mixing rounds each output goes through (1-16)"`
	AnonymizeAmount   float64 `long:"anonymizeamount" description:"Target amount in coins to keep anonymized (2-999999)"`
	LiquidityProvider bool    `long:"liquidityprovider" description:"Only join sessions opened by other participants"`

	// The following fields are set by loadConfig from the options above.
	params     *netparams.Params
	whitelists []net.IPNet
	hotKey     *secp256k1.PrivateKey
	dial       func(context.Context, string, string) (net.Conn, error)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]
	var pathSeparators string
	if runtime.GOOS == "windows" {
		pathSeparators = string(os.PathSeparator) + "/"
	} else {
		pathSeparators = string(os.PathSeparator)
	}
	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}
	homeDir := ""
	if userName == "" {
		homeDir, _ = os.UserHomeDir()
	}
	if homeDir == "" {
		homeDir = filepath.Dir(defaultHomeDir)
	}
	return filepath.Join(homeDir, path)
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, addr := range addrs {
		addr = normalizeAddress(addr, defaultPort)
		if _, ok := seen[addr]; !ok {
			result = append(result, addr)
			seen[addr] = struct{}{}
		}
	}
	return result
}

// parseWhitelists parses the whitelist options into IP networks.  Bare IPs
// are treated as single host networks.
func parseWhitelists(whitelists []string) ([]net.IPNet, error) {
	ipnets := make([]net.IPNet, 0, len(whitelists))
	for _, addr := range whitelists {
		_, ipnet, err := net.ParseCIDR(addr)
		if err != nil {
			ip := net.ParseIP(addr)
			if ip == nil {
				return nil, fmt.Errorf("the whitelist value of '%s' is "+
					"invalid", addr)
			}
			var bits int
			if ip.To4() == nil {
				// IPv6
				bits = 128
			} else {
				bits = 32
			}
			ipnet = &net.IPNet{
				IP:   ip,
				Mask: net.CIDRMask(bits, bits),
			}
		}
		ipnets = append(ipnets, *ipnet)
	}
	return ipnets, nil
}

// activeNetParams returns the parameters of the network selected by the
// network flags.
func activeNetParams(cfg *config) (*netparams.Params, error) {
	numNets := 0
	params := netparams.MainNetParams()
	if cfg.TestNet {
		numNets++
		params = netparams.TestNetParams()
	}
	if cfg.SimNet {
		numNets++
		params = netparams.SimNetParams()
	}
	if cfg.RegNet {
		numNets++
		params = netparams.RegNetParams()
	}
	if numNets > 1 {
		return nil, errors.New("the testnet, regnet, and simnet params " +
			"can't be used together -- choose one of the three")
	}
	return params, nil
}

// defaultRPCPorts returns the default dcrd and wallet JSON-RPC ports of the
// passed network.
func defaultRPCPorts(params *netparams.Params) (string, string) {
	switch params.Net {
	case wire.TestNet3:
		return "19109", "19110"
	case wire.SimNet:
		return "19556", "19557"
	case wire.RegNet:
		return "18656", "18657"
	default:
		return "9109", "9110"
	}
}

// clampInt returns v limited to the range [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// newConfigParser returns a new command line parser for the passed config.
// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// createDefaultConfigFile writes the sample config to destPath.  The
// directory is created when needed.
func createDefaultConfigFile(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.Anond()), 0600)
}

func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in anond functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string, args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		HomeDir:         defaultHomeDir,
		ConfigFile:      defaultConfigFile,
		DataDir:         defaultDataDir,
		LogDir:          defaultLogDir,
		LogSize:         defaultLogSize,
		DebugLevel:      defaultLogLevel,
		MaxPeers:        defaultMaxPeers,
		DialTimeout:     defaultDialTimeout,
		BanDuration:     defaultBanDuration,
		BanThreshold:    defaultBanThreshold,
		DcrdRPCServer:   "localhost",
		DcrdRPCCert:     defaultDcrdRPCCert,
		WalletRPCCert:   defaultWalletRPCCert,
		CacheFlushSpec:  defaultCacheFlushSpec,
		AnonSendRounds:  defaultAnonSendRounds,
		AnonymizeAmount: defaultAnonymizeAmount,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS,
			runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory for anond if specified.  Since the home
	// directory is updated, other variables need to be updated to reflect
	// the new changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir, _ = filepath.Abs(cleanAndExpandPath(preCfg.HomeDir))

		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
		} else {
			cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(cfg.ConfigFile) {
		err := createDefaultConfigFile(cfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			err = fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Choose the active network params based on the selected network.
	params, err := activeNetParams(&cfg)
	if err != nil {
		str := "%s: %v"
		err := fmt.Errorf(str, "loadConfig", err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.AllowPrivatePeers {
		params.AllowPrivatePeers = true
	}
	cfg.params = params

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.DataDir = filepath.Join(cleanAndExpandPath(cfg.DataDir), params.Name)
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir), params.Name)

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	if !cfg.NoFileLogging {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		err := initLogRotator(logFile, cfg.LogSize, defaultMaxLogRolls)
		if err != nil {
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %w", "loadConfig", err)
		return nil, nil, err
	}

	// Don't allow ban durations that are too short.
	if cfg.BanDuration < time.Second {
		str := "%s: the banduration option may not be less than 1s -- " +
			"parsed [%v]"
		return nil, nil, fmt.Errorf(str, "loadConfig", cfg.BanDuration)
	}

	// Validate any given whitelisted IP addresses and networks.
	cfg.whitelists, err = parseWhitelists(cfg.Whitelists)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", "loadConfig", err)
	}

	// --addpeer and --connect do not mix.
	if len(cfg.AddPeers) > 0 && len(cfg.ConnectPeers) > 0 {
		str := "%s: the --addpeer and --connect options can not be mixed"
		return nil, nil, fmt.Errorf(str, "loadConfig")
	}

	// Connect means no listening.
	if len(cfg.ConnectPeers) > 0 {
		cfg.DisableListen = true
	}

	// Add the default listener if none were specified.
	if len(cfg.Listeners) == 0 && !cfg.DisableListen {
		cfg.Listeners = []string{net.JoinHostPort("", params.DefaultPort)}
	}

	// Add default port to all listener and peer addresses if needed and
	// remove duplicate addresses.
	cfg.Listeners = normalizeAddresses(cfg.Listeners, params.DefaultPort)
	cfg.AddPeers = normalizeAddresses(cfg.AddPeers, params.DefaultPort)
	cfg.ConnectPeers = normalizeAddresses(cfg.ConnectPeers,
		params.DefaultPort)

	// The masternode needs its hot key.
	if cfg.Masternode {
		if cfg.MasternodePrivKey == "" {
			str := "%s: the --masternode option requires " +
				"--masternodeprivkey"
			return nil, nil, fmt.Errorf(str, "loadConfig")
		}
		key, _, err := mnsign.DecodeKey(cfg.MasternodePrivKey,
			params.PrivateKeyID)
		if err != nil {
			str := "%s: invalid masternode private key: %w"
			return nil, nil, fmt.Errorf(str, "loadConfig", err)
		}
		cfg.hotKey = key
		if cfg.MasternodeAddr != "" {
			cfg.MasternodeAddr = normalizeAddress(cfg.MasternodeAddr,
				params.DefaultPort)
		}
	}

	// Mixing needs a wallet.
	if cfg.AnonSend && cfg.WalletRPCServer == "" {
		str := "%s: the --anonsend option requires --walletrpcserver"
		return nil, nil, fmt.Errorf(str, "loadConfig")
	}
	cfg.AnonSendRounds = clampInt(cfg.AnonSendRounds, minAnonSendRounds,
		maxAnonSendRounds)
	switch {
	case cfg.AnonymizeAmount < minAnonymizeAmount:
		cfg.AnonymizeAmount = minAnonymizeAmount
	case cfg.AnonymizeAmount > maxAnonymizeAmount:
		cfg.AnonymizeAmount = maxAnonymizeAmount
	}

	// Add the default RPC ports of the active network when none are given.
	dcrdPort, walletPort := defaultRPCPorts(params)
	cfg.DcrdRPCServer = normalizeAddress(cfg.DcrdRPCServer, dcrdPort)
	if cfg.WalletRPCServer != "" {
		cfg.WalletRPCServer = normalizeAddress(cfg.WalletRPCServer,
			walletPort)
	}
	cfg.DcrdRPCCert = cleanAndExpandPath(cfg.DcrdRPCCert)
	cfg.WalletRPCCert = cleanAndExpandPath(cfg.WalletRPCCert)

	// Setup the dial function depending on the specified options.
	var dialer net.Dialer
	cfg.dial = dialer.DialContext
	if cfg.Proxy != "" {
		_, _, err := net.SplitHostPort(cfg.Proxy)
		if err != nil {
			str := "%s: proxy address '%s' is invalid: %w"
			return nil, nil, fmt.Errorf(str, "loadConfig", cfg.Proxy, err)
		}
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		cfg.dial = proxy.DialContext
	}

	return &cfg, remainingArgs, nil
}
