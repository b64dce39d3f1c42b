// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anonsend/anond/internal/sampleconfig"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	flags "github.com/jessevdk/go-flags"
)

// testArgs returns the passed arguments prefixed by the options that keep
// loadConfig away from the user's home directory.
func testArgs(t *testing.T, args ...string) (string, []string) {
	t.Helper()
	appData := t.TempDir()
	base := []string{"--appdata=" + appData, "--nofilelogging"}
	return appData, append(base, args...)
}

// TestLoadConfigDefaults ensures a configuration without options selects the
// main network and fills in the default addresses.
func TestLoadConfigDefaults(t *testing.T) {
	appData, args := testArgs(t)
	cfg, _, err := loadConfig("anond", args)
	if err != nil {
		t.Fatalf("loadConfig: unexpected err - %v", err)
	}
	if cfg.params.Name != "mainnet" {
		t.Fatalf("unexpected network %q", cfg.params.Name)
	}
	wantDataDir := filepath.Join(appData, defaultDataDirname, "mainnet")
	if cfg.DataDir != wantDataDir {
		t.Fatalf("data dir %q, want %q", cfg.DataDir, wantDataDir)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != ":9108" {
		t.Fatalf("unexpected listeners %v", cfg.Listeners)
	}
	if cfg.DcrdRPCServer != "localhost:9109" {
		t.Fatalf("unexpected dcrd RPC server %q", cfg.DcrdRPCServer)
	}
	if cfg.AnonSendRounds != defaultAnonSendRounds {
		t.Fatalf("unexpected mixing rounds %d", cfg.AnonSendRounds)
	}
	if cfg.BanDuration != defaultBanDuration {
		t.Fatalf("unexpected ban duration %v", cfg.BanDuration)
	}
	if cfg.hotKey != nil {
		t.Fatal("hot key set without --masternode")
	}

	// The sample config is written to the home directory on first start.
	contents, err := os.ReadFile(filepath.Join(appData, defaultConfigFilename))
	if err != nil {
		t.Fatalf("default config file not created: %v", err)
	}
	if string(contents) != sampleconfig.Anond() {
		t.Fatal("default config file does not match the sample config")
	}
}

// TestSampleConfig ensures the sample config parses and leaves the defaults
// untouched.
func TestSampleConfig(t *testing.T) {
	var cfg config
	parser := newConfigParser(&cfg, 0)
	err := flags.NewIniParser(parser).Parse(strings.NewReader(
		sampleconfig.Anond()))
	if err != nil {
		t.Fatalf("unable to parse sample config: %v", err)
	}
	if cfg.TestNet || cfg.Masternode || cfg.AnonSend || len(cfg.AddPeers) != 0 {
		t.Fatalf("sample config sets options: %+v", cfg)
	}
}

// TestLoadConfigOptions ensures options are normalized for the selected
// network.
func TestLoadConfigOptions(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	wif, err := dcrutil.NewWIF(key.Serialize(),
		chaincfg.RegNetParams().PrivateKeyID, dcrec.STEcdsaSecp256k1)
	if err != nil {
		t.Fatal(err)
	}

	appData, args := testArgs(t, "--regnet", "--masternode",
		"--masternodeprivkey="+wif.String(),
		"--masternodeaddr=10.0.0.1", "--addpeer=10.0.0.2",
		"--addpeer=10.0.0.2:18655", "--whitelist=192.168.1.0/24",
		"--whitelist=::1", "--anonsendrounds=100", "--anonymizeamount=1",
		"--banduration=2h")
	cfg, _, err := loadConfig("anond", args)
	if err != nil {
		t.Fatalf("loadConfig: unexpected err - %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"network", cfg.params.Name, "regnet"},
		{"data dir", cfg.DataDir, filepath.Join(appData,
			defaultDataDirname, "regnet")},
		{"masternode addr", cfg.MasternodeAddr, "10.0.0.1:18655"},
		{"peers", len(cfg.AddPeers), 1},
		{"peer", cfg.AddPeers[0], "10.0.0.2:18655"},
		{"whitelists", len(cfg.whitelists), 2},
		{"rounds", cfg.AnonSendRounds, maxAnonSendRounds},
		{"amount", cfg.AnonymizeAmount, float64(minAnonymizeAmount)},
		{"ban duration", cfg.BanDuration, 2 * time.Hour},
		{"dcrd RPC server", cfg.DcrdRPCServer, "localhost:18656"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%q: got %v, want %v", test.name, test.got, test.want)
		}
	}
	if cfg.hotKey == nil || !cfg.hotKey.Key.Equals(&key.Key) {
		t.Fatal("masternode hot key not decoded")
	}
}

// TestLoadConfigErrors ensures invalid option combinations are rejected.
func TestLoadConfigErrors(t *testing.T) {
	mainKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	mainWIF, err := dcrutil.NewWIF(mainKey.Serialize(),
		chaincfg.MainNetParams().PrivateKeyID, dcrec.STEcdsaSecp256k1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{{
		name: "multiple networks",
		args: []string{"--testnet", "--simnet"},
	}, {
		name: "addpeer with connect",
		args: []string{"--addpeer=10.0.0.1", "--connect=10.0.0.2"},
	}, {
		name: "masternode without key",
		args: []string{"--masternode"},
	}, {
		name: "masternode key for other network",
		args: []string{"--testnet", "--masternode",
			"--masternodeprivkey=" + mainWIF.String()},
	}, {
		name: "mixing without wallet",
		args: []string{"--anonsend"},
	}, {
		name: "invalid whitelist",
		args: []string{"--whitelist=not-an-ip"},
	}, {
		name: "short ban duration",
		args: []string{"--banduration=500ms"},
	}, {
		name: "proxy without port",
		args: []string{"--proxy=127.0.0.1"},
	}, {
		name: "invalid debug level",
		args: []string{"--debuglevel=loud"},
	}, {
		name: "unknown option",
		args: []string{"--nosuchoption"},
	}}

	for _, test := range tests {
		_, args := testArgs(t, test.args...)
		if _, _, err := loadConfig("anond", args); err == nil {
			t.Errorf("%q: expected an error", test.name)
		}
	}
}

// TestParseWhitelists ensures bare addresses become single host networks.
func TestParseWhitelists(t *testing.T) {
	ipnets, err := parseWhitelists([]string{"10.0.0.1", "fe80::/10"})
	if err != nil {
		t.Fatalf("parseWhitelists: unexpected err - %v", err)
	}
	if ones, bits := ipnets[0].Mask.Size(); ones != 32 || bits != 32 {
		t.Fatalf("unexpected IPv4 host mask %d/%d", ones, bits)
	}
	if ones, bits := ipnets[1].Mask.Size(); ones != 10 || bits != 128 {
		t.Fatalf("unexpected IPv6 network mask %d/%d", ones, bits)
	}
}
