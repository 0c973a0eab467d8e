// Package audit writes the append-only admin and security (WAF) logs.
//
// Each log is a plain text file with one entry per line. Writes go through a
// logrus.Logger, which serializes concurrent callers and emits every entry
// with a single write on an O_APPEND file descriptor.
package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	AdminLogFile    = "admin.log"
	SecurityLogFile = "waf.log"
)

// AdminEntry records an administrator action on a user account.
type AdminEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
}

func (e AdminEntry) String() string {
	return fmt.Sprintf("[%s] %s -> %s %s", e.Time.Format(time.RFC3339), e.Actor, e.Action, e.Target)
}

// BlockEntry records a request rejected by the request filter.
type BlockEntry struct {
	Time    time.Time
	Source  string
	Pattern string
}

func (e BlockEntry) String() string {
	return fmt.Sprintf("[%s] BLOCKED %s - pattern: %s", e.Time.Format(time.RFC3339), e.Source, e.Pattern)
}

type Logger struct {
	dir      string
	admin    *logrus.Logger
	security *logrus.Logger
	files    []*os.File
	now      func() time.Time
}

// NewLogger opens (creating if needed) both log files under dir.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}

	l := &Logger{dir: dir, now: time.Now}

	adminFile, err := openAppend(filepath.Join(dir, AdminLogFile))
	if err != nil {
		return nil, err
	}
	securityFile, err := openAppend(filepath.Join(dir, SecurityLogFile))
	if err != nil {
		adminFile.Close()
		return nil, err
	}
	l.files = []*os.File{adminFile, securityFile}

	l.admin = newFileLogger(adminFile, adminFormatter{})
	l.security = newFileLogger(securityFile, blockFormatter{})
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	return f, nil
}

func newFileLogger(f *os.File, formatter logrus.Formatter) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetFormatter(formatter)
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

// AdminAction appends one admin log line.
func (l *Logger) AdminAction(actor, action, target string) {
	l.admin.WithTime(l.now()).WithFields(logrus.Fields{
		"actor":  actor,
		"action": action,
		"target": target,
	}).Info("")
}

// Blocked appends one security log line.
func (l *Logger) Blocked(source, pattern string) {
	l.security.WithTime(l.now()).WithFields(logrus.Fields{
		"source":  source,
		"pattern": pattern,
	}).Info("")
}

// ReadAdminLog returns the raw admin log. A missing file reads as empty.
func (l *Logger) ReadAdminLog() (string, error) {
	return readLog(filepath.Join(l.dir, AdminLogFile))
}

// ReadSecurityLog returns the raw security log. A missing file reads as empty.
func (l *Logger) ReadSecurityLog() (string, error) {
	return readLog(filepath.Join(l.dir, SecurityLogFile))
}

func readLog(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	return string(data), nil
}

func (l *Logger) Close() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type adminFormatter struct{}

func (adminFormatter) Format(e *logrus.Entry) ([]byte, error) {
	entry := AdminEntry{
		Time:   e.Time,
		Actor:  field(e, "actor"),
		Action: field(e, "action"),
		Target: field(e, "target"),
	}
	return []byte(entry.String() + "\n"), nil
}

type blockFormatter struct{}

func (blockFormatter) Format(e *logrus.Entry) ([]byte, error) {
	entry := BlockEntry{
		Time:    e.Time,
		Source:  field(e, "source"),
		Pattern: field(e, "pattern"),
	}
	return []byte(entry.String() + "\n"), nil
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// field keeps a caller-supplied value on a single line.
func field(e *logrus.Entry, key string) string {
	v, _ := e.Data[key].(string)
	return lineBreaks.Replace(v)
}
