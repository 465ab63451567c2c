package session

import (
	"context"
	"sync"

	"github.com/yourorg/portfolio-cms/internal/autosave"
	"github.com/yourorg/portfolio-cms/internal/model"
)

// AutoSaveOptions configure an AutoSaveSession
type AutoSaveOptions struct {
	ProjectID         string
	OnSave            autosave.SaveFunc
	EnableLocalBackup bool
}

// AutoSaveSession binds the shared auto-save manager to one project. It
// installs its own save callback, so one session at a time drives a manager.
type AutoSaveSession struct {
	manager   *autosave.Manager
	projectID string

	mu          sync.Mutex
	status      model.SaveStatus
	unsubscribe func()
}

// NewAutoSaveSession installs opts.OnSave on manager and follows its status
func NewAutoSaveSession(manager *autosave.Manager, opts AutoSaveOptions) *AutoSaveSession {
	s := &AutoSaveSession{
		manager:   manager,
		projectID: opts.ProjectID,
		status:    manager.Status(),
	}

	onSave := opts.OnSave
	manager.SetLocalBackup(opts.EnableLocalBackup)
	manager.SetSaveCallback(func(ctx context.Context, data model.SaveData) error {
		if onSave == nil {
			return nil
		}
		return onSave(ctx, data)
	})

	s.unsubscribe = manager.AddStatusListener(func(status model.SaveStatus) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.status = status
	})
	return s
}

// Save records new content for the session's project
func (s *AutoSaveSession) Save(content string, opts autosave.SaveOptions) {
	s.manager.Save(content, s.projectID, opts)
}

// ForceSave persists the latest content now
func (s *AutoSaveSession) ForceSave(ctx context.Context) error {
	return s.manager.ForceSave(ctx)
}

// Status is the last status the session observed
func (s *AutoSaveSession) Status() model.SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HasPendingChanges reports the pending flag of the last observed status
func (s *AutoSaveSession) HasPendingChanges() bool {
	return s.Status().PendingChanges
}

// LoadFromBackup returns the project's shadow copy, or nil
func (s *AutoSaveSession) LoadFromBackup() *model.SaveData {
	return s.manager.LoadFromLocalStorage(s.projectID)
}

// ClearBackup empties the project's shadow copy
func (s *AutoSaveSession) ClearBackup() {
	s.manager.ClearLocalStorage(s.projectID)
}

// Close stops following status changes. The manager keeps running.
func (s *AutoSaveSession) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
