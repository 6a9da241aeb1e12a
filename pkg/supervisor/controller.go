package supervisor

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/jobsubstrate/pkg/jobmetrics"
	"github.com/cuemby/jobsubstrate/pkg/joblog"
)

// KillFunc forcibly terminates the worker process identified by pid.
// The controller calls this when a worker has been BUSY for longer
// than timeout without a matching DONE.
type KillFunc func(pid int)

// Controller binds the supervisor channel and runs the single-threaded
// receive loop that arms and disarms per-worker kill timers. It is the
// Go counterpart of the original's Supervisor class; the asyncio
// receive loop becomes a goroutine reading off a Unix datagram socket,
// and loop.call_later(timeout, kill, pid) becomes time.AfterFunc.
type Controller struct {
	conn    *net.UnixConn
	timeout time.Duration
	kill    KillFunc

	mu      sync.Mutex
	timers  map[int]*time.Timer
	stopped chan struct{}
	done    chan struct{}
}

// NewController binds a Unix datagram socket at address and returns a
// Controller ready to Run. The socket file is removed first if stale.
func NewController(address string, timeout time.Duration, kill KillFunc) (*Controller, error) {
	_ = removeStaleSocket(address)

	laddr, err := net.ResolveUnixAddr("unixgram", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUnixgram("unixgram", laddr)
	if err != nil {
		return nil, err
	}

	return &Controller{
		conn:    conn,
		timeout: timeout,
		kill:    kill,
		timers:  make(map[int]*time.Timer),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run reads notifications until Stop is called. Intended to run in its
// own goroutine. The timers map is also written by expiring timer
// callbacks and by Stop, so arm and disarm take c.mu.
func (c *Controller) Run() {
	defer close(c.done)

	buf := make([]byte, 256)
	for {
		select {
		case <-c.stopped:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-c.stopped:
				return
			default:
				joblog.WithComponent("supervisor").Err(err).Msg("supervisor read error")
				continue
			}
		}

		pid, notif, ok := parseNotification(buf[:n])
		if !ok {
			continue
		}

		switch notif {
		case notifyBusy:
			c.arm(pid)
		case notifyDone:
			c.disarm(pid)
		}
	}
}

func parseNotification(b []byte) (pid int, notif string, ok bool) {
	fields := strings.Fields(string(b))
	if len(fields) != 2 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	return pid, fields[1], true
}

func (c *Controller) arm(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, exists := c.timers[pid]; exists {
		t.Stop()
	}
	c.timers[pid] = time.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		delete(c.timers, pid)
		c.mu.Unlock()
		jobmetrics.SupervisorPendingTimers.Dec()
		jobmetrics.SupervisorKillsTotal.Inc()
		joblog.WithWorker(pid).Warn().Msg("killing stalled worker: deadline exceeded")
		c.kill(pid)
	})
	jobmetrics.SupervisorPendingTimers.Set(float64(len(c.timers)))
}

func (c *Controller) disarm(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, exists := c.timers[pid]; exists {
		t.Stop()
		delete(c.timers, pid)
		jobmetrics.SupervisorPendingTimers.Set(float64(len(c.timers)))
	}
}

// Stop halts the receive loop and cancels every outstanding timer.
func (c *Controller) Stop() {
	close(c.stopped)
	_ = c.conn.Close()
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	for pid, t := range c.timers {
		t.Stop()
		delete(c.timers, pid)
	}
	jobmetrics.SupervisorPendingTimers.Set(0)
}

func removeStaleSocket(address string) error {
	return removeIfSocket(address)
}
