package txn

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/pagecraft-io/actioncore/pkg/datasource"
)

// OptimisticInput describes a locally-applied mutation shown to the user
// before the server acknowledges it.
type OptimisticInput struct {
	Type           datasource.Operation
	Resource       string
	RecordID       string
	OptimisticData map[string]any
	PreviousData   map[string]any
}

// OptimisticUpdate is a tracked pending mutation. A given update is never
// both confirmed and rolled back: whichever transition happens first
// removes it from the pending set.
type OptimisticUpdate struct {
	ID             string
	Type           datasource.Operation
	Resource       string
	RecordID       string
	OptimisticData map[string]any
	PreviousData   map[string]any
	Confirmed      bool
	RolledBack     bool
	// ContentHash is the canonical (RFC 8785) JSON of OptimisticData,
	// usable to detect duplicate optimistic applications of the same
	// change.
	ContentHash string
}

func contentHash(data map[string]any) string {
	if data == nil {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	return string(canonical)
}

// ApplyOptimisticUpdate registers a pending update and returns it with a
// fresh unique id.
func (m *Manager) ApplyOptimisticUpdate(in OptimisticInput) *OptimisticUpdate {
	u := &OptimisticUpdate{
		ID:             uuid.New().String(),
		Type:           in.Type,
		Resource:       in.Resource,
		RecordID:       in.RecordID,
		OptimisticData: in.OptimisticData,
		PreviousData:   in.PreviousData,
		ContentHash:    contentHash(in.OptimisticData),
	}
	m.omu.Lock()
	m.pending[u.ID] = u
	m.omu.Unlock()
	m.logger.Debug("optimistic update applied",
		"update", u.ID, "type", u.Type, "resource", u.Resource)
	return u
}

// ConfirmOptimisticUpdate marks the update confirmed and removes it from
// the pending set. Unknown ids return false.
func (m *Manager) ConfirmOptimisticUpdate(id string) bool {
	m.omu.Lock()
	defer m.omu.Unlock()
	u, ok := m.pending[id]
	if !ok {
		return false
	}
	u.Confirmed = true
	delete(m.pending, id)
	return true
}

// RollbackOptimisticUpdate removes the update from the pending set and
// returns the previous data for the caller to restore its local state.
// Unknown ids return (nil, false).
func (m *Manager) RollbackOptimisticUpdate(id string) (map[string]any, bool) {
	m.omu.Lock()
	defer m.omu.Unlock()
	u, ok := m.pending[id]
	if !ok {
		return nil, false
	}
	u.RolledBack = true
	delete(m.pending, id)
	return u.PreviousData, true
}

// PendingUpdates returns all updates that are neither confirmed nor rolled
// back.
func (m *Manager) PendingUpdates() []*OptimisticUpdate {
	m.omu.Lock()
	defer m.omu.Unlock()
	out := make([]*OptimisticUpdate, 0, len(m.pending))
	for _, u := range m.pending {
		out = append(out, u)
	}
	return out
}

// ClearOptimisticUpdates empties the pending set unconditionally.
func (m *Manager) ClearOptimisticUpdates() {
	m.omu.Lock()
	defer m.omu.Unlock()
	m.pending = make(map[string]*OptimisticUpdate)
}
