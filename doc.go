// Package sendspin implements a synchronized multi-room audio player
// client core: a Session that connects to a server over a framed
// transport, keeps its local clock in sync with the server's, schedules
// and decodes incoming audio, and renders it to a local device in time
// with the rest of the group.
package sendspin
