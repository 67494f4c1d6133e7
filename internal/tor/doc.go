// Package tor reaches onion services through the Tor network.
//
// A Client wraps a SOCKS5 proxy, either a system Tor daemon or one started
// in-process by EmbeddedTor through tornago. Prober implements the
// reachability transport used by the scan scheduler: it opens a stream to
// an onion endpoint and classifies how Tor answered. The package also
// validates and normalizes v3 onion addresses.
package tor
