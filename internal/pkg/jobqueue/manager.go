package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tucitasegura/payments/internal/pkg/env"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue           *Queue
	cleanupTicker   *time.Ticker
	reconcileTicker *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			queue:  NewQueue(intFromEnv("JOB_WORKER_COUNT", 2)),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	cleanupInterval := time.Duration(intFromEnv("LEDGER_CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute
	reconcileInterval := time.Duration(intFromEnv("CLAIMS_RECONCILE_INTERVAL_MINUTES", 360)) * time.Minute

	// Workers get their own channel and ticker references; the struct fields
	// are reset across start/stop cycles and must not be read from goroutines.
	m.cleanupTicker = time.NewTicker(cleanupInterval)
	m.wg.Add(1)
	go m.cleanupWorker(m.stopCh, m.cleanupTicker, cleanupInterval)

	m.reconcileTicker = time.NewTicker(reconcileInterval)
	m.wg.Add(1)
	go m.reconcileWorker(m.stopCh, m.reconcileTicker, reconcileInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// cleanupWorker periodically enqueues a ledger cleanup job
func (m *Manager) cleanupWorker(stopCh <-chan struct{}, ticker *time.Ticker, interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started ledger cleanup worker (interval: %s)", interval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Ledger cleanup worker stopping")
			return
		case <-ticker.C:
			payload := LedgerCleanupJobPayload{BatchLimit: defaultCleanupBatchLimit}
			if _, err := m.queue.EnqueueJob(JobTypeLedgerCleanup, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Failed to enqueue ledger cleanup: %v", err)
			}
		}
	}
}

// reconcileWorker periodically enqueues a full claims reconcile sweep
func (m *Manager) reconcileWorker(stopCh <-chan struct{}, ticker *time.Ticker, interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started claims reconcile worker (interval: %s)", interval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Claims reconcile worker stopping")
			return
		case <-ticker.C:
			payload := ClaimsReconcileJobPayload{PageSize: intFromEnv("CLAIMS_RECONCILE_PAGE_SIZE", 200)}
			if _, err := m.queue.EnqueueJob(JobTypeClaimsReconcile, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Failed to enqueue claims reconcile: %v", err)
			}
		}
	}
}

func intFromEnv(key string, fallback int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
