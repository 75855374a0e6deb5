// Package push maintains the websocket push channel to torrentino and decodes
// its messages.
//
// A Manager owns at most one transport at a time. Unexpected closes and
// failed dials schedule a reconnect at a fixed interval until MaxAttempts
// is reached; Disconnect cancels any pending timer and Connect starts over.
// Decoded messages go to a Sink in arrival order. Frames that fail to decode
// are logged and dropped.
package push
