package supervisor

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControllerKillsStalledWorker(t *testing.T) {
	address := filepath.Join(t.TempDir(), "supervisor.sock")

	var mu sync.Mutex
	var killed []int
	kill := func(pid int) {
		mu.Lock()
		killed = append(killed, pid)
		mu.Unlock()
	}

	controller, err := NewController(address, 100*time.Millisecond, kill)
	assert.NoError(t, err)
	go controller.Run()
	defer controller.Stop()

	notifier, err := Dial(address)
	assert.NoError(t, err)
	defer notifier.Close()

	notifier.NotifyBusy()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(killed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestControllerCancelsTimerOnDone(t *testing.T) {
	address := filepath.Join(t.TempDir(), "supervisor.sock")

	var mu sync.Mutex
	killed := false
	kill := func(int) {
		mu.Lock()
		killed = true
		mu.Unlock()
	}

	controller, err := NewController(address, 100*time.Millisecond, kill)
	assert.NoError(t, err)
	go controller.Run()
	defer controller.Stop()

	notifier, err := Dial(address)
	assert.NoError(t, err)
	defer notifier.Close()

	notifier.NotifyBusy()
	time.Sleep(20 * time.Millisecond)
	notifier.NotifyDone()

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, killed)
}

func TestNotifierIgnoresRepeatedBusy(t *testing.T) {
	address := filepath.Join(t.TempDir(), "supervisor.sock")

	controller, err := NewController(address, time.Second, func(int) {})
	assert.NoError(t, err)
	go controller.Run()
	defer controller.Stop()

	notifier, err := Dial(address)
	assert.NoError(t, err)
	defer notifier.Close()

	notifier.NotifyBusy()
	notifier.NotifyBusy()

	time.Sleep(50 * time.Millisecond)

	controller.mu.Lock()
	defer controller.mu.Unlock()
	assert.Len(t, controller.timers, 1)
}
