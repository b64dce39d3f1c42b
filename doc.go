// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
anond is a masternode network daemon for Decred written in Go.  It tracks the
masternode list, votes on and verifies masternode payments, and coordinates
AnonSend mixing sessions between wallets and masternodes.

anond does not validate blocks itself.  It follows the best chain of a dcrd
instance over JSON-RPC and, when mixing or running a masternode, uses a
dcrwallet instance for coins and signing keys.

The long form of all of the options below (except -C) can be specified in a
configuration file that is automatically parsed when anond starts up.  By
default, the configuration file is located at ~/.anond/anond.conf on
POSIX-style operating systems and %LOCALAPPDATA%\anond\anond.conf on Windows.
The -C (--configfile) flag can be used to override this location.

Usage:

	anond [OPTIONS]

Application Options:

	-V, --version                Display version information and exit
	-A, --appdata=               Path to application home directory
	-C, --configfile=            Path to configuration file
	-b, --datadir=               Directory to store the masternode and payment
	                             caches
	    --logdir=                Directory to log output
	    --logsize=               Maximum size in KiB of a log file before it is
	                             rotated (default: 10240)
	    --nofilelogging          Disable file logging
	-d, --debuglevel=            Logging level for all subsystems {trace, debug,
	                             info, warn, error, critical} -- You may also
	                             specify
	                             <subsystem>=<level>,<subsystem2>=<level>,... to
	                             set the log level for individual subsystems --
	                             Use show to list available subsystems (info)
	    --testnet                Use the test network
	    --simnet                 Use the simulation test network
	    --regnet                 Use the regression test network
	    --listen=                Add an interface/port to listen for
	                             connections (default all interfaces port:
	                             9108, testnet: 19108)
	    --nolisten               Disable listening for incoming connections
	-a, --addpeer=               Add a peer to connect with at startup
	    --connect=               Connect only to the specified peers at startup
	    --maxpeers=              Max number of inbound and outbound peers
	                             (default: 125)
	    --dialtimeout=           How long to wait for TCP connection completion
	                             (default: 30s)
	    --proxy=                 Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)
	    --proxyuser=             Username for proxy server
	    --proxypass=             Password for proxy server
	    --nobanning              Disable banning of misbehaving peers
	    --banduration=           How long to ban misbehaving peers.  Valid time
	                             units are {s, m, h}.  Minimum 1 second
	                             (default: 24h0m0s)
	    --banthreshold=          Maximum allowed ban score before disconnecting
	                             and banning misbehaving peers. (default: 100)
	    --whitelist=             Add an IP network or IP that will not be
	                             banned. (eg. 192.168.1.0/24 or ::1)
	    --allowprivatepeers      Accept masternodes on private addresses and
	                             non-default ports
	    --dcrdrpcserver=         Hostname/IP and port of the dcrd RPC server
	                             (default port: 9109, testnet: 19109)
	    --dcrdrpcuser=           dcrd RPC username
	    --dcrdrpcpass=           dcrd RPC password
	    --dcrdrpccert=           dcrd RPC server certificate chain for
	                             validation
	    --nodcrdtls              Disable TLS for the dcrd RPC connection
	    --walletrpcserver=       Hostname/IP and port of the wallet RPC server
	                             (leave empty to run without a wallet)
	    --walletrpcuser=         Wallet RPC username
	    --walletrpcpass=         Wallet RPC password
	    --walletrpccert=         Wallet RPC server certificate chain for
	                             validation
	    --nowallettls            Disable TLS for the wallet RPC connection
	    --masternode             Run a masternode
	    --masternodeprivkey=     WIF encoded hot key of the masternode
	    --masternodeaddr=        Public address:port announced for the
	                             masternode
	    --cacheflushspec=        Cron spec for periodic masternode and payment
	                             cache writes (default: @every 15m)
	    --anonsend               Mix wallet funds through masternode sessions
	    --anonsendrounds=        Number of mixing rounds each output goes
	                             through (1-16) (default: 2)
	    --anonymizeamount=       Target amount in coins to keep anonymized
	                             (2-999999) (default: 1000)
	    --liquidityprovider      Only join sessions opened by other
	                             participants

Help Options:

	-h, --help                   Show this help message
*/
package main
