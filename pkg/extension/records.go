package extension

import (
	"sort"
	"sync"
	"time"
)

// Record tracks one extension through an initialization pass
type Record struct {
	Path      string
	Name      string
	Role      Role
	State     State
	MountPath string
	Weight    int
	LastError error
	UpdatedAt time.Time
}

// Records tracks extension state per role and package path
type Records struct {
	records map[recordKey]*Record
	mu      sync.RWMutex
}

type recordKey struct {
	role Role
	path string
}

// NewRecords creates an empty record set
func NewRecords() *Records {
	return &Records{
		records: make(map[recordKey]*Record),
	}
}

// Get retrieves a copy of the record for role and path
func (r *Records) Get(role Role, path string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[recordKey{role, path}]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns copies of every record for role, sorted by path
func (r *Records) List(role Role) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for key, rec := range r.records {
		if key.role == role {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ByState returns copies of the records for role in a specific state
func (r *Records) ByState(role Role, state State) []Record {
	var out []Record
	for _, rec := range r.List(role) {
		if rec.State == state {
			out = append(out, rec)
		}
	}
	return out
}

// reset drops every record for role
func (r *Records) reset(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.records {
		if key.role == role {
			delete(r.records, key)
		}
	}
}

// update creates or updates the record for role and path
func (r *Records) update(role Role, path string, updater func(*Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordKey{role, path}
	rec, ok := r.records[key]
	if !ok {
		rec = &Record{Path: path, Role: role}
		r.records[key] = rec
	}
	updater(rec)
	rec.UpdatedAt = time.Now()
}

func (r *Records) transition(role Role, path string, state State, err error) {
	r.update(role, path, func(rec *Record) {
		rec.State = state
		if err != nil {
			rec.LastError = err
		}
	})
}
