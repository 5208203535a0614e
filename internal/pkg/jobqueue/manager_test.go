package jobqueue

import (
	"testing"
	"time"
)

func TestManagerWorkersStopAfterChannelReset(t *testing.T) {
	m := &Manager{
		queue:  &Queue{},
		stopCh: make(chan struct{}),
	}
	m.cleanupTicker = time.NewTicker(time.Hour)
	defer m.cleanupTicker.Stop()
	m.reconcileTicker = time.NewTicker(time.Hour)
	defer m.reconcileTicker.Stop()

	stopCh := m.stopCh
	m.wg.Add(2)
	go m.cleanupWorker(stopCh, m.cleanupTicker, time.Hour)
	go m.reconcileWorker(stopCh, m.reconcileTicker, time.Hour)

	// A restart cycle replaces the struct field; workers must keep running
	// off their own channel reference and still observe the close.
	close(stopCh)
	m.stopCh = make(chan struct{})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after the stop channel was closed")
	}
}
