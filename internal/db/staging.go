package db

import (
	"sync"

	"github.com/ldi/sitetask/pkg/models"
)

type StagedItems struct {
	Tasks []*models.Task
}

// StagingManager provides thread-safe in-memory storage for staged drafts.
// Drafts only touch the store when a session is committed as one batch.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedItems
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedItems),
	}
}

func (sm *StagingManager) AddTask(sessionID string, task *models.Task) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = &StagedItems{
			Tasks: []*models.Task{},
		}
	}
	sm.staged[sessionID].Tasks = append(sm.staged[sessionID].Tasks, task)
}

func (sm *StagingManager) GetAndClear(sessionID string) *StagedItems {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return &StagedItems{Tasks: []*models.Task{}}
	}

	delete(sm.staged, sessionID)
	return items
}

func (sm *StagingManager) Peek(sessionID string) *StagedItems {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return &StagedItems{Tasks: []*models.Task{}}
	}

	return items
}
