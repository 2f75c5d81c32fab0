package twophase

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// TxnLog is the coordinator's append-only, newline-delimited record of
// every 2PC event: starting, votes received, the decision, and
// completion. It is the coordinator's sole durable artifact — the
// coordinator otherwise carries no state between transactions
// (SPEC_FULL §3/§4.3).
type TxnLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenTxnLog opens (creating if needed) the coordinator's log file for
// appending.
func OpenTxnLog(path string) (*TxnLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "twophase: open log file %s", path)
	}
	return &TxnLog{file: f}, nil
}

// Append writes one "[COORD] msg" line, matching the tag convention
// SPEC_FULL §6 specifies for coordinator log lines.
func (l *TxnLog) Append(format string, args ...interface{}) error {
	return l.appendTagged("COORD", format, args...)
}

func (l *TxnLog) appendTagged(tag, format string, args ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] "+format+"\n", append([]interface{}{tag}, args...)...)
	if _, err := l.file.WriteString(line); err != nil {
		return errors.Wrap(err, "twophase: write log line")
	}
	return l.file.Sync()
}

// Close releases the underlying file handle.
func (l *TxnLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ParticipantLog is the same append-only discipline, used by a
// participant with its own account-name tag ("[A]"/"[B]").
type ParticipantLog struct {
	mu          sync.Mutex
	file        *os.File
	accountName string
}

// OpenParticipantLog opens a participant's log file for appending.
func OpenParticipantLog(path, accountName string) (*ParticipantLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "twophase: open log file %s", path)
	}
	return &ParticipantLog{file: f, accountName: accountName}, nil
}

// Append writes one "[<account>] msg" line.
func (l *ParticipantLog) Append(format string, args ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] "+format+"\n", append([]interface{}{l.accountName}, args...)...)
	if _, err := l.file.WriteString(line); err != nil {
		return errors.Wrap(err, "twophase: write log line")
	}
	return l.file.Sync()
}

// Close releases the underlying file handle.
func (l *ParticipantLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
