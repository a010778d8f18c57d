// Package realtime implements the WebSocket notification channel.
//
// The Registry tracks live client connections for one process; it is the
// single source of truth for who is connected. The Dispatcher fans system
// messages out to every registered connection, removing any connection whose
// send fails. Payloads may be wrapped in a symmetric encryption envelope.
package realtime
