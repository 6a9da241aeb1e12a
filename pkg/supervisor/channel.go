// Package supervisor implements the out-of-band Supervisor Channel (C2)
// and Supervisor Controller (C3): a heartbeat path, separate from the
// job dispatch socket, that lets a worker tell the parent "I am busy"
// and "I am done" so the parent can kill it if it goes silent past its
// deadline. Grounded on the original qywps poolserver.supervisor
// Client/Supervisor pair (zmq PUSH/PULL, non-queuing producer side,
// asyncio receive loop with per-pid call_later timers); realized here
// with a Unix datagram socket (SOCK_DGRAM naturally matches the
// non-queuing, fire-and-forget PUSH semantics without pulling in a
// messaging library) and time.AfterFunc timers in place of an event
// loop's call_later.
package supervisor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Address returns the Unix datagram socket path used for the
// supervisor channel, rooted under dataDir. One socket per running
// jobsubstrate process; workers it spawns connect to it as clients.
func Address(dataDir string) string {
	return filepath.Join(dataDir, fmt.Sprintf("supervisor-%d.sock", os.Getpid()))
}

const (
	notifyBusy = "BUSY"
	notifyDone = "DONE"
)

// Notifier is the worker-side client: it tells the Controller when the
// worker starts and finishes a job. Sends are best-effort; a worker
// that cannot reach the controller still must continue running the
// job, it will simply not be protected by the deadline-kill mechanism.
type Notifier struct {
	conn *net.UnixConn
	pid  int
	busy bool
}

// Dial connects to the supervisor channel at address. The connection
// is a pure client: no response is ever read back.
func Dial(address string) (*Notifier, error) {
	raddr, err := net.ResolveUnixAddr("unixgram", address)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve address: %w", err)
	}

	// Use an unnamed local socket so multiple workers can each dial the
	// same controller without colliding on a local path.
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: dial: %w", err)
	}

	return &Notifier{conn: conn, pid: os.Getpid()}, nil
}

func (n *Notifier) send(notif string) {
	msg := fmt.Sprintf("%d %s", n.pid, notif)
	// Best-effort: a dropped heartbeat just means the deadline timer
	// starts a little later than it should have, never a correctness
	// problem for the job itself.
	_, _ = n.conn.Write([]byte(msg))
}

// NotifyBusy tells the controller this worker has started a job. A
// repeated call while already busy is a no-op, matching the original's
// edge-transition-only sends.
func (n *Notifier) NotifyBusy() {
	if !n.busy {
		n.busy = true
		n.send(notifyBusy)
	}
}

// NotifyDone tells the controller this worker has finished its job.
func (n *Notifier) NotifyDone() {
	if n.busy {
		n.busy = false
		n.send(notifyDone)
	}
}

// Close releases the underlying socket.
func (n *Notifier) Close() error {
	return n.conn.Close()
}
