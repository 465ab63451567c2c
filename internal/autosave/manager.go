// Package autosave persists editor content with debounce, latest-wins
// semantics, exponential retry and a best-effort local shadow copy.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/events"
	"github.com/yourorg/portfolio-cms/internal/metrics"
	"github.com/yourorg/portfolio-cms/internal/model"
)

var (
	// ErrNoSaveCallback is returned when saving before SetSaveCallback
	ErrNoSaveCallback = errors.New("no save callback configured")
	// ErrOffline is returned by ForceSave while offline
	ErrOffline = errors.New("offline")
	// ErrStopped is returned once the manager is stopped
	ErrStopped = errors.New("auto-save manager stopped")
)

// Messages shown by the editor
const (
	MessageOffline        = "Hors ligne - La sauvegarde sera effectuée à la reconnexion"
	MessageConnectionLost = "Connexion perdue - Les modifications seront sauvegardées à la reconnexion"
	MessageUnsaved        = "Vous avez des modifications non sauvegardées. Êtes-vous sûr de vouloir quitter ?"
	messageSaveFailed     = "Erreur de sauvegarde"
)

const (
	backupTimeout  = 5 * time.Second
	publishTimeout = 5 * time.Second
)

// SaveFunc persists one snapshot
type SaveFunc func(ctx context.Context, data model.SaveData) error

// StatusListener observes every status transition
type StatusListener func(model.SaveStatus)

// SaveOptions tune one Save call
type SaveOptions struct {
	Immediate    bool
	SkipDebounce bool
	RetryOnError *bool // nil means retry
}

func (o SaveOptions) retry() bool {
	return o.RetryOnError == nil || *o.RetryOnError
}

// Connectivity reports and announces online/offline transitions
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

type listenerEntry struct {
	id int
	fn StatusListener
}

// Manager is the auto-save state machine. Listeners run synchronously under the
// manager's lock, in subscription order, and must not call back into Save.
type Manager struct {
	mu sync.Mutex

	callback     SaveFunc
	current      *model.SaveData
	savedVersion int
	status       model.SaveStatus
	snapshot     atomic.Pointer[model.SaveStatus]
	listeners    []listenerEntry
	nextListener int
	online       bool
	stopped      bool

	retries    backoff.BackOff
	retryCount int

	debounceTimer *time.Timer
	retryTimer    *time.Timer
	resetTimer    *time.Timer
	unsubscribe   func()

	// persistMu serializes calls to the save callback
	persistMu sync.Mutex
	inflight  sync.WaitGroup

	cfg           config.AutoSaveConfig
	backup        BackupStore
	backupEnabled bool
	publisher     events.Publisher
	logger        *zap.Logger
	now           func() time.Time

	// onRetryScheduled observes retry scheduling
	onRetryScheduled func(attempt int, delay time.Duration)
}

// New creates a manager. backup and publisher may be nil.
func New(cfg config.AutoSaveConfig, backup BackupStore, publisher events.Publisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	m := &Manager{
		online:        true,
		cfg:           cfg,
		backup:        backup,
		backupEnabled: cfg.EnableLocalBackup && backup != nil,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
		retries:       newRetryBackOff(cfg),
	}
	m.status = model.SaveStatus{Status: model.SaveStateIdle, RetriesRemaining: cfg.MaxRetries}
	m.publishStatus()
	return m
}

// newRetryBackOff yields base, 2*base, 4*base... and stops after MaxRetries delays
func newRetryBackOff(cfg config.AutoSaveConfig) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.RetryBaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = cfg.RetryBaseDelay << uint(cfg.MaxRetries)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(cfg.MaxRetries))
}

// SetSaveCallback sets the persistence function
func (m *Manager) SetSaveCallback(fn SaveFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

// SetLocalBackup turns the shadow copy on or off
func (m *Manager) SetLocalBackup(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backupEnabled = enabled && m.backup != nil
}

// Start follows conn for online/offline transitions
func (m *Manager) Start(conn Connectivity) {
	online := conn.Online()

	m.mu.Lock()
	m.online = online
	if !online {
		m.updateLocked(func(s *model.SaveStatus) {
			s.Status = model.SaveStateOffline
			s.Error = MessageConnectionLost
		})
	}
	m.mu.Unlock()

	unsubscribe := conn.Subscribe(func(online bool) {
		if online {
			m.HandleOnline()
		} else {
			m.HandleOffline()
		}
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Stop cancels timers, drops listeners and waits for running saves
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	stopTimer(m.debounceTimer)
	stopTimer(m.retryTimer)
	stopTimer(m.resetTimer)
	m.listeners = nil
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.inflight.Wait()
}

// Save records content as the latest version. Persistence happens when the
// debounce timer fires, or right away with Immediate or SkipDebounce.
func (m *Manager) Save(content, projectID string, opts SaveOptions) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	version := 1
	if m.current != nil {
		version = m.current.Version + 1
	}
	data := model.SaveData{
		Content:   content,
		ProjectID: projectID,
		Timestamp: m.now().UnixMilli(),
		Version:   version,
	}
	m.current = &data

	// A new version gets a fresh retry budget
	stopTimer(m.retryTimer)
	m.retryTimer = nil
	m.resetRetriesLocked()

	m.updateLocked(func(s *model.SaveStatus) { s.PendingChanges = true })

	if opts.Immediate || opts.SkipDebounce {
		stopTimer(m.debounceTimer)
		m.debounceTimer = nil
		m.inflight.Add(1)
		m.mu.Unlock()

		go func() {
			defer m.inflight.Done()
			_ = m.persist(context.Background(), data, opts)
		}()
		return
	}

	stopTimer(m.debounceTimer)
	m.debounceTimer = time.AfterFunc(m.cfg.DebounceDelay, func() {
		m.fire(data, opts)
	})
	m.mu.Unlock()
}

// ForceSave persists the latest content right away, without retries, and
// returns the outcome of that single attempt.
func (m *Manager) ForceSave(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.current == nil {
		m.mu.Unlock()
		return nil
	}
	data := *m.current
	stopTimer(m.debounceTimer)
	m.debounceTimer = nil
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()

	off := false
	return m.persist(ctx, data, SaveOptions{Immediate: true, RetryOnError: &off})
}

// Status returns a snapshot of the current status
func (m *Manager) Status() model.SaveStatus {
	return *m.snapshot.Load()
}

// HasPendingChanges reports whether the latest content is not persisted yet
func (m *Manager) HasPendingChanges() bool {
	return m.snapshot.Load().PendingChanges
}

// RetriesRemaining is the number of automatic retries left for the current version
func (m *Manager) RetriesRemaining() int {
	return m.snapshot.Load().RetriesRemaining
}

// AddStatusListener subscribes fn to status transitions. The returned function
// unsubscribes; calling it more than once is harmless.
func (m *Manager) AddStatusListener(fn StatusListener) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// HandleOnline marks the network as back and retries pending changes at once
// with a fresh retry budget.
func (m *Manager) HandleOnline() {
	m.mu.Lock()
	m.online = true
	if m.stopped || m.current == nil || !m.status.PendingChanges {
		m.mu.Unlock()
		return
	}

	m.logger.Info("Back online, saving pending changes", zap.Int("version", m.current.Version))

	data := *m.current
	stopTimer(m.retryTimer)
	m.retryTimer = nil
	m.resetRetriesLocked()
	m.inflight.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.inflight.Done()
		on := true
		_ = m.persist(context.Background(), data, SaveOptions{RetryOnError: &on})
	}()
}

// HandleOffline forces the offline status whatever the current one
func (m *Manager) HandleOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.online = false
	m.updateLocked(func(s *model.SaveStatus) {
		s.Status = model.SaveStateOffline
		s.Error = MessageConnectionLost
	})
}

// BeforeUnload returns the warning to show when leaving with unsaved changes
func (m *Manager) BeforeUnload() (string, bool) {
	if m.HasPendingChanges() {
		return MessageUnsaved, true
	}
	return "", false
}

// fire runs a debounced or retried save from a timer
func (m *Manager) fire(data model.SaveData, opts SaveOptions) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()
	_ = m.persist(context.Background(), data, opts)
}

// persist runs one attempt. The shadow copy is written first, so it exists
// even when the network is down.
func (m *Manager) persist(ctx context.Context, data model.SaveData, opts SaveOptions) error {
	m.mu.Lock()
	callback := m.callback
	backupEnabled := m.backupEnabled
	m.mu.Unlock()

	if callback == nil {
		m.logger.Warn("Auto-save skipped, no save callback configured")
		return ErrNoSaveCallback
	}

	if backupEnabled {
		m.SaveToLocalStorage(data)
	}

	m.mu.Lock()
	if !m.online {
		m.updateLocked(func(s *model.SaveStatus) {
			s.Status = model.SaveStateOffline
			s.Error = MessageOffline
		})
		m.mu.Unlock()
		metrics.AutoSaveAttemptsTotal.WithLabelValues(metrics.OutcomeOffline).Inc()
		return ErrOffline
	}
	m.mu.Unlock()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if data.Version <= m.savedVersion {
		// A newer version was persisted while this one waited
		m.mu.Unlock()
		return nil
	}
	m.updateLocked(func(s *model.SaveStatus) {
		s.Status = model.SaveStateSaving
		s.Error = ""
	})
	m.mu.Unlock()

	err := callback(ctx, data)

	m.mu.Lock()
	if err == nil {
		m.succeededLocked(data)
		m.mu.Unlock()

		metrics.AutoSaveAttemptsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		m.publish(events.TopicContentSaved, data.ProjectID, events.ContentSaved{
			ProjectID: data.ProjectID,
			Version:   data.Version,
			SavedAt:   m.now(),
		})
		return nil
	}

	metrics.AutoSaveAttemptsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	m.logger.Error("Auto-save failed",
		zap.String("projectId", data.ProjectID),
		zap.Int("version", data.Version),
		zap.Error(err))

	message := err.Error()
	if message == "" {
		message = messageSaveFailed
	}
	m.updateLocked(func(s *model.SaveStatus) {
		s.Status = model.SaveStateError
		s.Error = message
	})

	// a newer version saved meanwhile owns the retry budget
	stale := m.current != nil && data.Version < m.current.Version

	exhausted := false
	if opts.retry() && !m.stopped && !stale {
		exhausted = !m.scheduleRetryLocked(data, opts)
	}
	m.mu.Unlock()

	if exhausted {
		m.publish(events.TopicContentSaveFailed, data.ProjectID, events.ContentSaveFailed{
			ProjectID: data.ProjectID,
			Version:   data.Version,
			Error:     message,
		})
	}
	return err
}

func (m *Manager) succeededLocked(data model.SaveData) {
	if data.Version > m.savedVersion {
		m.savedVersion = data.Version
	}
	pending := m.current != nil && m.current.Version > m.savedVersion
	saved := m.now()

	m.resetRetriesLocked()
	m.updateLocked(func(s *model.SaveStatus) {
		s.Status = model.SaveStateSaved
		s.LastSaved = &saved
		s.PendingChanges = pending
		s.Error = ""
	})

	stopTimer(m.resetTimer)
	m.resetTimer = time.AfterFunc(m.cfg.SavedResetDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.stopped && m.status.Status == model.SaveStateSaved {
			m.updateLocked(func(s *model.SaveStatus) { s.Status = model.SaveStateIdle })
		}
	})
}

// scheduleRetryLocked arms the retry timer and reports false once the budget is spent
func (m *Manager) scheduleRetryLocked(data model.SaveData, opts SaveOptions) bool {
	delay := m.retries.NextBackOff()
	if delay == backoff.Stop {
		m.logger.Warn("Auto-save retries exhausted",
			zap.String("projectId", data.ProjectID),
			zap.Int("version", data.Version))
		return false
	}

	m.retryCount++
	attempt := m.retryCount
	m.updateLocked(func(s *model.SaveStatus) { s.RetriesRemaining = m.cfg.MaxRetries - attempt })

	m.logger.Info("Auto-save retry scheduled",
		zap.Int("attempt", attempt),
		zap.Int("maxRetries", m.cfg.MaxRetries),
		zap.Duration("delay", delay))

	if m.onRetryScheduled != nil {
		m.onRetryScheduled(attempt, delay)
	}

	stopTimer(m.retryTimer)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.fire(data, opts)
	})
	return true
}

func (m *Manager) resetRetriesLocked() {
	m.retries.Reset()
	m.retryCount = 0
	m.updateLocked(func(s *model.SaveStatus) { s.RetriesRemaining = m.cfg.MaxRetries })
}

// updateLocked applies fn, publishes the snapshot and notifies listeners
func (m *Manager) updateLocked(fn func(*model.SaveStatus)) {
	before := m.status
	fn(&m.status)
	if statusEqual(before, m.status) {
		return
	}
	m.publishStatus()

	snapshot := m.status
	for _, l := range m.listeners {
		l.fn(snapshot)
	}
}

func (m *Manager) publishStatus() {
	s := m.status
	m.snapshot.Store(&s)
}

func statusEqual(a, b model.SaveStatus) bool {
	if a.Status != b.Status || a.Error != b.Error || a.PendingChanges != b.PendingChanges || a.RetriesRemaining != b.RetriesRemaining {
		return false
	}
	if a.LastSaved == nil || b.LastSaved == nil {
		return a.LastSaved == b.LastSaved
	}
	return a.LastSaved.Equal(*b.LastSaved)
}

func (m *Manager) publish(topic, key string, value interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := m.publisher.Publish(ctx, topic, key, value); err != nil {
		m.logger.Warn("Failed to publish auto-save event", zap.String("topic", topic), zap.Error(err))
	}
}

// SaveToLocalStorage writes data to its project slot. Failures are logged only.
func (m *Manager) SaveToLocalStorage(data model.SaveData) {
	if m.backup == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		m.logger.Warn("Failed to encode backup", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if err := m.backup.Save(ctx, BackupKey(data.ProjectID), payload); err != nil {
		m.logger.Warn("Failed to write local backup",
			zap.String("key", BackupKey(data.ProjectID)),
			zap.Error(err))
	}
}

// LoadFromLocalStorage returns the backup of a project, or nil
func (m *Manager) LoadFromLocalStorage(projectID string) *model.SaveData {
	if m.backup == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	payload, err := m.backup.Load(ctx, BackupKey(projectID))
	if err != nil {
		if !errors.Is(err, ErrNoBackup) {
			m.logger.Warn("Failed to read local backup", zap.String("key", BackupKey(projectID)), zap.Error(err))
		}
		return nil
	}

	var data model.SaveData
	if err := json.Unmarshal(payload, &data); err != nil {
		m.logger.Warn("Discarding unreadable local backup", zap.String("key", BackupKey(projectID)), zap.Error(err))
		return nil
	}
	return &data
}

// ClearLocalStorage empties the backup slot of a project
func (m *Manager) ClearLocalStorage(projectID string) {
	if m.backup == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if err := m.backup.Delete(ctx, BackupKey(projectID)); err != nil {
		m.logger.Warn("Failed to delete local backup", zap.String("key", BackupKey(projectID)), zap.Error(err))
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
