// Package pycluster provides a dispatcher that ships tasks to remote
// workers over an encrypted, length-prefixed message channel.
//
// Workers connect over TCP, authenticate with a one-time password and keep
// the connection active with periodic heartbeats. The dispatcher holds a
// registry of connected workers, sends tasks to idle ones and returns each
// result to the caller that requested it. A worker silent for more than
// twice the heartbeat interval is evicted and must authenticate again to
// rejoin.
//
// Work ships as the name of a handler registered on the worker together
// with an encoded argument payload; no code crosses the wire. There is no
// automatic reconnection, task retry or persistence: a worker lost mid-task
// resolves the caller's wait only through the task timeout.
package pycluster
