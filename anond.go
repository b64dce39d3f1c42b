// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/anonsend/anond/internal/banmanager"
	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/version"
)

// banDBDirname is the directory of the persistent ban list within the data
// directory.
const banDBDirname = "banlist"

// anondMain is the real main function for anond.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func anondMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	cfg, _, err := loadConfig(appName, os.Args[1:])
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem.
	ctx := shutdownListener()
	defer anodLog.Info("Shutdown complete")

	// Show version and home dir at startup.
	anodLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	anodLog.Infof("Home dir: %s", cfg.HomeDir)
	anodLog.Infof("Active network: %s", cfg.params.Name)
	if cfg.NoFileLogging {
		anodLog.Info("File logging disabled")
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	// Load the persistent ban list.
	banDB, err := banmanager.OpenBanDB(filepath.Join(cfg.DataDir,
		banDBDirname))
	if err != nil {
		anodLog.Errorf("Unable to open ban list: %v", err)
		return err
	}
	defer func() {
		anodLog.Infof("Gracefully shutting down the ban list...")
		if err := banDB.Close(); err != nil {
			anodLog.Errorf("Unable to close ban list: %v", err)
		}
	}()

	// Connect to the chain backend.
	dcrdClient, err := newRPCClient(cfg.DcrdRPCServer, cfg.DcrdRPCUser,
		cfg.DcrdRPCPass, cfg.DcrdRPCCert, cfg.NoDcrdTLS)
	if err != nil {
		anodLog.Errorf("Unable to connect to dcrd: %v", err)
		return err
	}
	defer dcrdClient.Shutdown()
	chain := newRPCChain(ctx, dcrdClient)
	anodLog.Infof("Using dcrd RPC server at %s", cfg.DcrdRPCServer)

	// Connect to the wallet backend when one is configured.
	var wallet chainview.Wallet
	if cfg.WalletRPCServer != "" {
		walletClient, err := newRPCClient(cfg.WalletRPCServer,
			cfg.WalletRPCUser, cfg.WalletRPCPass, cfg.WalletRPCCert,
			cfg.NoWalletTLS)
		if err != nil {
			anodLog.Errorf("Unable to connect to the wallet: %v", err)
			return err
		}
		defer walletClient.Shutdown()
		wallet = newRPCWallet(ctx, walletClient, cfg.params)
		anodLog.Infof("Using wallet RPC server at %s", cfg.WalletRPCServer)
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	// Create server.
	svr, err := newServer(ctx, cfg, chain, wallet, banDB)
	if err != nil {
		anodLog.Errorf("Unable to start server: %v", err)
		return err
	}

	// Run the server.  This will block until the context is cancelled which
	// happens when the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	svr.Run(ctx)
	srvrLog.Infof("Server shutdown complete")
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := anondMain(); err != nil {
		os.Exit(1)
	}
}
