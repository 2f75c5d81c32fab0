package twophase

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AccountStorage durably persists one participant's committed balance as
// a single integer followed by a newline (SPEC_FULL §3/§6).
type AccountStorage struct {
	path string
}

// NewAccountStorage binds storage to an account file, defaulting to a
// balance of zero if the file doesn't exist yet.
func NewAccountStorage(path string) *AccountStorage {
	return &AccountStorage{path: path}
}

// Load reads the persisted balance, defaulting to 0 if the file is
// absent.
func (s *AccountStorage) Load() (int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "twophase: read account file %s", s.path)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "twophase: parse account file %s", s.path)
	}
	return v, nil
}

// Save durably writes balance: write, fsync, then atomic rename, so a
// crash never leaves the account file half-written.
func (s *AccountStorage) Save(balance int64) error {
	return atomicWrite(s.path, []byte(strconv.FormatInt(balance, 10)+"\n"))
}

// preparedEntry is one line of the durable prepared-transactions log.
type preparedEntry struct {
	TID     string `json:"tid"`
	Balance int64  `json:"balance"`
}

// PreparedStorage durably persists the set of prepared-but-uncommitted
// tentative balances for one participant. This resolves SPEC_FULL §7's
// open question: prepare() must not return YES until this durably
// reflects the new tentative entry, or a crash between voting YES and
// committing silently loses the transaction.
type PreparedStorage struct {
	path string
}

// NewPreparedStorage binds storage to a prepared-transactions file.
func NewPreparedStorage(path string) *PreparedStorage {
	return &PreparedStorage{path: path}
}

// Load reads all currently prepared entries, or an empty map if the file
// is absent.
func (s *PreparedStorage) Load() (map[string]int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, errors.Wrapf(err, "twophase: read prepared file %s", s.path)
	}
	defer f.Close()

	out := map[string]int64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var e preparedEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, errors.Wrapf(err, "twophase: parse prepared entry in %s", s.path)
		}
		out[e.TID] = e.Balance
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "twophase: scan prepared file %s", s.path)
	}
	return out, nil
}

// SaveAll durably rewrites the whole prepared-entries file from the
// given map. Called after every prepare/commit/abort so the file on
// disk always matches in-memory state exactly.
func (s *PreparedStorage) SaveAll(entries map[string]int64) error {
	var buf strings.Builder
	for tid, balance := range entries {
		line, err := json.Marshal(preparedEntry{TID: tid, Balance: balance})
		if err != nil {
			return errors.Wrap(err, "twophase: marshal prepared entry")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return atomicWrite(s.path, []byte(buf.String()))
}

// atomicWrite writes data to a temp file, fsyncs it, then renames it
// into place, so readers never observe a half-written file and a crash
// mid-write leaves the previous durable version intact.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "twophase: create temp file for %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "twophase: write %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "twophase: fsync %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "twophase: close %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "twophase: rename into place for %s", path)
	}
	return nil
}
