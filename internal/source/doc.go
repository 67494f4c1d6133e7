// Package source provides the target lists a scan can start from: a local
// file with one onion address per line, or the remote SecureDrop directory.
package source
