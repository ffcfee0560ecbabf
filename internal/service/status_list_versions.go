package service

import "sync"

// listVersions tracks writes that land while a subject's list is being read, so a read that
// raced a write does not repopulate the cache with rows the write already invalidated.
// Entries live only while at least one read of the subject is in flight.
type listVersions struct {
	mu      sync.Mutex
	entries map[string]*listVersion
}

type listVersion struct {
	readers int
	version uint64
}

func newListVersions() *listVersions {
	return &listVersions{entries: make(map[string]*listVersion)}
}

func (l *listVersions) begin(subjectID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[subjectID]
	if !ok {
		entry = &listVersion{}
		l.entries[subjectID] = entry
	}
	entry.readers++
	return entry.version
}

// end releases a read started by begin and reports whether no write touched the subject meanwhile.
func (l *listVersions) end(subjectID string, version uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[subjectID]
	if !ok {
		return false
	}
	unchanged := entry.version == version
	entry.readers--
	if entry.readers <= 0 {
		delete(l.entries, subjectID)
	}
	return unchanged
}

func (l *listVersions) bump(subjectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[subjectID]; ok {
		entry.version++
	}
}
