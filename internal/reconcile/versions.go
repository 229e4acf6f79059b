package reconcile

import "github.com/Joseda-hg/tasksync/internal/model"

// VersionIndex maps a task id to the newest updated_at (as epoch
// nanoseconds) applied for it.
type VersionIndex map[int64]int64

func NewVersionIndex(tasks []model.Task) VersionIndex {
	index := make(VersionIndex, len(tasks))
	for _, task := range tasks {
		index.Record(task.ID, task.Version())
	}
	return index
}

// Stale reports whether a payload at version is not newer than what has
// already been applied for id.
func (v VersionIndex) Stale(id, version int64) bool {
	current, ok := v[id]
	return ok && current >= version
}

func (v VersionIndex) Record(id, version int64) {
	if current, ok := v[id]; ok && current >= version {
		return
	}
	v[id] = version
}

func (v VersionIndex) Get(id int64) (int64, bool) {
	version, ok := v[id]
	return version, ok
}
