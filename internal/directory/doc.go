// Package directory fetches the public SecureDrop directory listing and the
// translation statistics of the SecureDrop project.
//
// Both are plain JSON GET endpoints. Requests go through the HTTP client
// supplied by the caller, which normally routes them over Tor.
package directory
