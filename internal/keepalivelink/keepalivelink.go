// Package keepalivelink carries the small amount of state around the
// optional cross-agent keepalive delegation: which agent (if any) this one
// is standing in for, and what to do if the cloud refuses the link.
package keepalivelink

import (
	"os"

	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
)

var log = logging.L("keepalivelink")

// Link tracks the configured target of a keepalive delegation and reacts to
// the cloud's acceptance or rejection of it at handshake time.
type Link struct {
	target string
}

// New returns a Link for the given target fingerprint. An empty target
// means keepalive delegation is not in use.
func New(target string) *Link {
	return &Link{target: target}
}

// Target returns the fingerprint this agent asked to be a keepalive for, or
// "" if unset. It is included verbatim in every Hello frame, including on
// reconnect.
func (l *Link) Target() string { return l.target }

// Active reports whether delegation was requested at all.
func (l *Link) Active() bool { return l.target != "" }

// HandleRejection is invoked by the supervisor when the cloud reports the
// Hello's keepalive_for target was refused (same-org and no-self-link
// violations are the only documented causes). This is a fatal
// misconfiguration: the process logs and exits rather than retrying, since
// retrying would hit the identical rejection forever.
func HandleRejection(reason string) {
	log.Error("keepalive link rejected by controller, exiting", "reason", reason)
	os.Exit(3)
}
