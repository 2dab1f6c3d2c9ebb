package sshchain

import "errors"

// errors
var (
	// ErrNoHops indicates that the caller did not configure any hops. We need at least one hop.
	ErrNoHops = errors.New("no hops configured")
	// ErrEndpointNotFound indicates that no configured hop has the requested name.
	ErrEndpointNotFound = errors.New("no hop with that name")
	// ErrEndpointNotConnected indicates that the hop exists but has no live session.
	ErrEndpointNotConnected = errors.New("hop is not connected")
	// ErrRemoteNotConnected indicates that no named remote with that name is connected.
	ErrRemoteNotConnected = errors.New("no connected remote with that name")
	// ErrSourceHopNotFound indicates that the hop a remote should be reached through does not exist.
	ErrSourceHopNotFound = errors.New("no source hop with that name")
	// ErrSourceHopNotConnected indicates that the source hop for a remote has no live session.
	ErrSourceHopNotConnected = errors.New("source hop is not connected")
	// ErrCreatingConnection indicates we were unable to create a connection while building the chain.
	ErrCreatingConnection = errors.New("error creating connection")
	// ErrClosingHop indicates that we got an error while trying to close a connection when tearing
	// down the chain.
	ErrClosingHop = errors.New("error closing hop")
	// ErrStreamData indicates that data arrived on the error stream while waiting for shell output.
	ErrStreamData = errors.New("data on error stream")
	// ErrUnexpectedClose indicates that the shell closed before the expected output appeared.
	ErrUnexpectedClose = errors.New("shell closed unexpectedly")
)
