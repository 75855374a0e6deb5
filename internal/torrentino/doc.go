// Package torrentino is a typed client for the torrentino server's /api/v1
// REST surface.
package torrentino
