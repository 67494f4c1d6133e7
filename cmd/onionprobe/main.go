// Package main provides the entry point for the onionprobe CLI.
//
// onionprobe checks which onion services of a list are reachable over Tor.
//
// Usage:
//
//	onionprobe scan --file targets.txt
//	onionprobe scan --directory --num 20
//
// See --help for all available options.
package main

// main is the entry point for onionprobe.
func main() {
	Execute()
}
