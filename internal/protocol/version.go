package protocol

import (
	"fmt"

	version "github.com/hashicorp/go-version"
)

// Version is the protocol version spoken by this build of the daemon.
const Version = "1.2.0"

// Compatible reports whether a client speaking clientVersion may talk to a
// daemon speaking daemonVersion. The rule is an exact major-version match.
func Compatible(daemonVersion, clientVersion string) (bool, error) {
	d, err := version.NewVersion(daemonVersion)
	if err != nil {
		return false, fmt.Errorf("daemon version %q: %w", daemonVersion, err)
	}
	c, err := version.NewVersion(clientVersion)
	if err != nil {
		return false, fmt.Errorf("client version %q: %w", clientVersion, err)
	}
	return d.Segments()[0] == c.Segments()[0], nil
}

// CheckVersion validates a request's protocol version against Version.
// An empty version is accepted for clients that predate versioning.
func CheckVersion(clientVersion string) *Error {
	if clientVersion == "" {
		return nil
	}
	ok, err := Compatible(Version, clientVersion)
	if ok && err == nil {
		return nil
	}
	msg := fmt.Sprintf("protocol version %s is not compatible with daemon protocol %s", clientVersion, Version)
	if err != nil {
		msg = fmt.Sprintf("unreadable protocol version %q", clientVersion)
	}
	major := Version[:1]
	return NewError(CodeVersionMismatch, msg,
		WithParam("meta.protocolVersion"),
		WithSuggestion(fmt.Sprintf("daemon speaks protocol %s; upgrade the canvas CLI to a %s.x release (or restart the daemon with `canvas daemon stop`)", Version, major)))
}
