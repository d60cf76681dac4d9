package fortune

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	logx "fortunebot/pkg/logx"
)

const (
	recordsFile = "fortunes.json"
	historyFile = "history.json"
	dateLayout  = "2006-01-02"
)

// UserInfo is the sender snapshot taken when a record is created.
type UserInfo struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Title    string `json:"title"`
}

// DisplayName is the card (or nickname) with an optional "[title]" prefix.
func (u UserInfo) DisplayName() string {
	name := u.Card
	if name == "" {
		name = u.Nickname
	}
	if u.Title != "" {
		name = "[" + u.Title + "]" + name
	}
	return name
}

// FortuneRecord is one user's draw for one day. Records are never mutated.
type FortuneRecord struct {
	Value       int       `json:"value"`
	Process     string    `json:"process,omitempty"`
	Advice      string    `json:"advice,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	UserInfo    *UserInfo `json:"user_info,omitempty"`
	Time        string    `json:"time,omitempty"` // HH:MM:SS in the plugin timezone
	CreatedAt   time.Time `json:"created_at"`
}

// jsonFile loads and atomically replaces one pretty-printed JSON document.
// Callers serialize access.
type jsonFile[T any] struct {
	path string
	log  logx.Logger
}

// load returns the decoded document. A missing file is empty; an unreadable
// or corrupted one is logged and also read as empty.
func (f jsonFile[T]) load() T {
	var v T
	b, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.log.Error("data file unreadable, using empty", logx.Err(&StorageError{Op: "read", Path: f.path, Err: err}))
		}
		return v
	}
	if len(b) == 0 {
		return v
	}
	if err := json.Unmarshal(b, &v); err != nil {
		f.log.Error("data file corrupted, using empty", logx.Err(&StorageError{Op: "decode", Path: f.path, Err: err}))
		var zero T
		return zero
	}
	return v
}

func (f jsonFile[T]) store(v T) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &StorageError{Op: "write", Path: f.path, Err: err}
	}
	if err := writeAtomic(f.path, append(b, '\n')); err != nil {
		return &StorageError{Op: "write", Path: f.path, Err: err}
	}
	return nil
}

func (f jsonFile[T]) remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "remove", Path: f.path, Err: err}
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory, syncs
// it, then renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// dayBook is the fortunes.json document: date -> user id -> record.
type dayBook map[string]map[string]FortuneRecord

// RecordStore holds at most one FortuneRecord per (date, user).
type RecordStore struct {
	mu   sync.Mutex
	file jsonFile[dayBook]
}

func (s *RecordStore) Get(date, user string) (FortuneRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.file.load()[date][user]
	return rec, ok
}

// PutIfAbsent stores rec unless a record for (date, user) exists. It
// returns the stored record and whether rec was written.
func (s *RecordStore) PutIfAbsent(date, user string, rec FortuneRecord) (FortuneRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.file.load()
	if existing, ok := book[date][user]; ok {
		return existing, false, nil
	}
	if book == nil {
		book = dayBook{}
	}
	if book[date] == nil {
		book[date] = map[string]FortuneRecord{}
	}
	book[date][user] = rec
	if err := s.file.store(book); err != nil {
		return FortuneRecord{}, false, err
	}
	return rec, true, nil
}

// Day returns every record for date.
func (s *RecordStore) Day(date string) map[string]FortuneRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.load()[date]
}

// DeleteUser removes the user's records on every date.
func (s *RecordStore) DeleteUser(user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.file.load()
	deleted := false
	for date, users := range book {
		if _, ok := users[user]; ok {
			delete(users, user)
			deleted = true
			if len(users) == 0 {
				delete(book, date)
			}
		}
	}
	if !deleted {
		return false, nil
	}
	return true, s.file.store(book)
}

// PruneBefore drops every day earlier than date and returns how many days
// were removed.
func (s *RecordStore) PruneBefore(date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.file.load()
	n := 0
	for d := range book {
		if d < date {
			delete(book, d)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.file.store(book)
}

// Stores groups the plugin's two data files under one directory.
type Stores struct {
	Dir     string
	Records *RecordStore
	History *HistoryStore
}

func OpenStores(dir string, log logx.Logger) (*Stores, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Stores{
		Dir:     dir,
		Records: &RecordStore{file: jsonFile[dayBook]{path: filepath.Join(dir, recordsFile), log: log}},
		History: &HistoryStore{file: jsonFile[historyBook]{path: filepath.Join(dir, historyFile), log: log}},
	}, nil
}

// ResetAll deletes both backing files. Missing files are not an error.
func (s *Stores) ResetAll() error {
	s.Records.mu.Lock()
	defer s.Records.mu.Unlock()
	s.History.mu.Lock()
	defer s.History.mu.Unlock()
	return errors.Join(s.Records.file.remove(), s.History.file.remove())
}
