// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/swvote/creatord/internal/cfgutil"
	"github.com/swvote/creatord/internal/prompt"
)

const (
	defaultConfigFilename   = "creatord.conf"
	defaultLogLevel         = "info"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "creatord.log"
	defaultRPCMaxClients    = 10
	defaultRPCMaxWebsockets = 25

	// defaultNodeEndpoint is the websocket RPC endpoint path exposed by
	// the chain node.
	defaultNodeEndpoint = "/ws"

	defaultNodeRPCPort   = "8090"
	defaultRPCServerPort = "8190"

	defaultPaymentAsset = "VOTE"
)

var (
	creatordHomeDir   = btcutil.AppDataDir("creatord", false)
	defaultConfigFile = filepath.Join(creatordHomeDir, defaultConfigFilename)
	defaultDataDir    = creatordHomeDir
	defaultLogDir     = filepath.Join(creatordHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store application data"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	Profile     string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`

	// Chain node options
	NodeConnect  string `short:"c" long:"nodeconnect" description:"Hostname/IP and port of the chain node websocket RPC to connect to (default localhost:8090)"`
	NodeEndpoint string `long:"nodeendpoint" description:"Websocket RPC endpoint path on the chain node"`

	// Purchase options
	PublishingAccount string        `long:"publishingaccount" description:"Registered name of the account that receives payments and publishes settled contests"`
	PaymentAsset      string        `long:"paymentasset" description:"Symbol of the asset contest purchases are priced in"`
	PublisherKey      string        `long:"publisherkey" default-mask:"-" description:"WIF-encoded private key of the publishing account -- Leave unset to be prompted at startup"`
	SessionTTL        time.Duration `long:"sessionttl" description:"How long an unpaid purchase session is watched before it is dropped"`

	// RPC server options
	RPCListeners     []string `long:"rpclisten" description:"Listen for RPC connections on this interface/port (default port: 8190)"`
	RPCMaxClients    int64    `long:"rpcmaxclients" description:"Max number of RPC clients for standard connections"`
	RPCMaxWebsockets int64    `long:"rpcmaxwebsockets" description:"Max number of RPC websocket connections"`
	Username         string   `short:"u" long:"username" description:"Username for RPC connections"`
	Password         string   `short:"P" long:"password" default-mask:"-" description:"Password for RPC connections"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(creatordHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in creatord functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel:       defaultLogLevel,
		ConfigFile:       defaultConfigFile,
		DataDir:          defaultDataDir,
		LogDir:           defaultLogDir,
		NodeEndpoint:     defaultNodeEndpoint,
		PaymentAsset:     defaultPaymentAsset,
		RPCMaxClients:    defaultRPCMaxClients,
		RPCMaxWebsockets: defaultRPCMaxWebsockets,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.  A config file given on the command
	// line must exist; only the default location is allowed to be absent.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	if preCfg.ConfigFile != defaultConfigFile {
		exists, err := cfgutil.FileExists(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		if !exists {
			err = fmt.Errorf("%s: config file %q does not exist",
				funcName, preCfg.ConfigFile)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Expand environment variables and leading ~ for filepaths.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// The publishing account has no sensible default: without it the
	// daemon cannot quote or settle anything.
	if cfg.PublishingAccount == "" {
		err := fmt.Errorf("%s: the publishingaccount option must be set",
			funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Prompt for the publishing key when it was not supplied through the
	// config file or command line.  Keeping it out of both is the
	// recommended setup.
	if cfg.PublisherKey == "" {
		key, err := prompt.PublisherKey(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		cfg.PublisherKey = key
	}

	if cfg.NodeConnect == "" {
		cfg.NodeConnect = net.JoinHostPort("localhost",
			defaultNodeRPCPort)
	}

	// Add default port to connect flag if missing.
	cfg.NodeConnect, err = cfgutil.NormalizeAddress(cfg.NodeConnect,
		defaultNodeRPCPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid nodeconnect network address: %v\n", err)
		return nil, nil, err
	}

	if len(cfg.RPCListeners) == 0 {
		addrs, err := net.LookupHost("localhost")
		if err != nil {
			return nil, nil, err
		}
		cfg.RPCListeners = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			addr = net.JoinHostPort(addr, defaultRPCServerPort)
			cfg.RPCListeners = append(cfg.RPCListeners, addr)
		}
	}

	// Add default port to all rpc listener addresses if needed and remove
	// duplicate addresses.
	cfg.RPCListeners, err = cfgutil.NormalizeAddresses(
		cfg.RPCListeners, defaultRPCServerPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid network address in RPC listeners: %v\n", err)
		return nil, nil, err
	}

	// An RPC server without auth credentials is wide open; refuse to
	// start rather than serve unauthenticated purchases.
	if cfg.Username == "" || cfg.Password == "" {
		err := fmt.Errorf("%s: the username and password options must "+
			"be set", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
