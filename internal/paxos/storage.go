package paxos

import (
	"bufio"
	"encoding/base64"
	"os"

	"github.com/pkg/errors"
)

// state is the full durable snapshot of one acceptor/proposer pair, as
// persisted to the replica file. SPEC_FULL §9 calls for persisting
// promised_n and accepted_n alongside accepted_value (the teacher and
// original_source persist accepted_value only); the proposal counter is
// persisted too, so a restarted proposer keeps generating fresh numbers.
type state struct {
	PromisedN ProposalNumber
	AcceptedN ProposalNumber
	Value     []byte
	Counter   int64
}

// Storage durably persists and reloads acceptor/proposer state for one
// node. One file, one writer: the node that owns it.
type Storage struct {
	path string
}

// NewStorage binds a Storage to a replica file. The file need not exist
// yet; Load returns a zero state in that case (matching the spec's
// "empty file = no value").
func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

// Load reads the persisted state, or the zero state if the file is
// absent or empty.
func (s *Storage) Load() (state, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state{}, nil
		}
		return state{}, errors.Wrapf(err, "paxos: open replica file %s", s.path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := make([]string, 0, 4)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return state{}, errors.Wrapf(err, "paxos: read replica file %s", s.path)
	}
	if len(lines) == 0 {
		return state{}, nil
	}
	if len(lines) < 4 {
		return state{}, errors.Errorf("paxos: replica file %s is truncated", s.path)
	}

	var st state
	if _, err := parseInt(lines[0], (*int64)(&st.PromisedN)); err != nil {
		return state{}, err
	}
	if _, err := parseInt(lines[1], (*int64)(&st.AcceptedN)); err != nil {
		return state{}, err
	}
	if lines[2] != "" {
		val, err := base64.StdEncoding.DecodeString(lines[2])
		if err != nil {
			return state{}, errors.Wrapf(err, "paxos: decode accepted value in %s", s.path)
		}
		st.Value = val
	}
	if _, err := parseInt(lines[3], &st.Counter); err != nil {
		return state{}, err
	}
	return st, nil
}

// Save durably writes st to the replica file: write a temp file, fsync,
// then atomically rename over the old one. A failure here must never be
// swallowed — the caller treats it as fatal to the in-flight operation
// (SPEC_FULL §7).
func (s *Storage) Save(st state) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "paxos: create temp replica file for %s", s.path)
	}

	valueField := ""
	if st.Value != nil {
		valueField = base64.StdEncoding.EncodeToString(st.Value)
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(formatInt(int64(st.PromisedN)) + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "paxos: write promised_n")
	}
	if _, err := w.WriteString(formatInt(int64(st.AcceptedN)) + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "paxos: write accepted_n")
	}
	if _, err := w.WriteString(valueField + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "paxos: write accepted_value")
	}
	if _, err := w.WriteString(formatInt(st.Counter) + "\n"); err != nil {
		f.Close()
		return errors.Wrap(err, "paxos: write proposal_counter")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "paxos: flush replica file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "paxos: fsync replica file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "paxos: close replica file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "paxos: rename replica file into place for %s", s.path)
	}
	return nil
}
