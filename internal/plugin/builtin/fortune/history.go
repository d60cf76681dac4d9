package fortune

import "sync"

type HistoryEntry struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

// historyBook is the history.json document: user id -> oldest-first entries.
type historyBook map[string][]HistoryEntry

type HistoryStore struct {
	mu   sync.Mutex
	file jsonFile[historyBook]
}

// Append adds e to the user's history and keeps only the last retention
// entries. retention <= 0 keeps everything.
func (s *HistoryStore) Append(user string, e HistoryEntry, retention int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.file.load()
	if book == nil {
		book = historyBook{}
	}
	list := append(book[user], e)
	if retention > 0 && len(list) > retention {
		list = append([]HistoryEntry(nil), list[len(list)-retention:]...)
	}
	book[user] = list
	return s.file.store(book)
}

func (s *HistoryStore) Get(user string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.load()[user]
}

func (s *HistoryStore) DeleteUser(user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.file.load()
	if _, ok := book[user]; !ok {
		return false, nil
	}
	delete(book, user)
	return true, s.file.store(book)
}

// historyStats returns mean, max and min over entries, which must be
// non-empty.
func historyStats(entries []HistoryEntry) (avg float64, hi, lo int) {
	hi, lo = entries[0].Value, entries[0].Value
	sum := 0
	for _, e := range entries {
		sum += e.Value
		hi = max(hi, e.Value)
		lo = min(lo, e.Value)
	}
	return float64(sum) / float64(len(entries)), hi, lo
}
