// Package audit records operator actions taken through the console.
// Events go to a JSON-lines file for tamper review and, when configured,
// to the sqlite action history behind "blockctl history".
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event
type EventType string

const (
	// Operator actions
	EventActionAccepted EventType = "ACTION_ACCEPTED"
	EventActionRejected EventType = "ACTION_REJECTED"
	EventActionFailed   EventType = "ACTION_FAILED"
	EventActionDone     EventType = "ACTION_DONE"
	EventHostTerminated EventType = "HOST_TERMINATING"

	// Service lifecycle
	EventServiceStart EventType = "SERVICE_START"
	EventServiceStop  EventType = "SERVICE_STOP"
)

// Event represents an audit log entry
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"type"`
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
}

// Logger writes audit events. A nil *Logger logs through logrus only.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	logPath string
	history *History
}

// Open creates the audit directory and today's log file. history may be nil.
func Open(dir string, history *History) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	l := &Logger{
		file:    file,
		encoder: json.NewEncoder(file),
		logPath: logPath,
		history: history,
	}
	l.Log(EventServiceStart, "info", "Audit logging initialized", nil)
	return l, nil
}

// HistoryOnly returns a Logger that writes no audit file but still appends
// actions to history.
func HistoryOnly(history *History) *Logger {
	return &Logger{history: history}
}

// Log records an audit event
func (l *Logger) Log(eventType EventType, severity string, message string, details map[string]interface{}) {
	fields := logrus.Fields{
		"audit_type": eventType,
		"severity":   severity,
	}
	for k, v := range details {
		fields[k] = v
	}
	logrus.WithFields(fields).Info(message)

	if l == nil || l.encoder == nil {
		return
	}

	event := Event{
		Timestamp:   time.Now(),
		Type:        eventType,
		Severity:    severity,
		Message:     message,
		Details:     details,
		ProcessID:   os.Getpid(),
		ProcessName: filepath.Base(os.Args[0]),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.encoder.Encode(event); err != nil {
		logrus.WithError(err).Error("Failed to write audit log")
	}
}

// RecordAction logs the outcome of one control request and appends it to
// the action history.
func (l *Logger) RecordAction(ctx context.Context, entry Entry) {
	eventType, severity := EventActionDone, "info"
	switch entry.Outcome {
	case OutcomeRejected:
		eventType = EventActionRejected
	case OutcomeFailed:
		eventType, severity = EventActionFailed, "warning"
	case OutcomeTerminated:
		eventType, severity = EventHostTerminated, "warning"
	}

	details := map[string]interface{}{
		"action_id": entry.ActionID,
		"action":    entry.Kind,
		"outcome":   entry.Outcome,
	}
	if entry.Error != "" {
		details["error"] = entry.Error
	}
	l.Log(eventType, severity, fmt.Sprintf("Action %s %s", entry.Kind, entry.Outcome), details)

	if l == nil || l.history == nil {
		return
	}
	if err := l.history.Record(ctx, entry); err != nil {
		logrus.WithError(err).Warn("Failed to append action history")
	}
}

// RecordAccepted logs that a request passed validation.
func (l *Logger) RecordAccepted(actionID, kind string) {
	l.Log(EventActionAccepted, "info", fmt.Sprintf("Action %s accepted", kind), map[string]interface{}{
		"action_id": actionID,
		"action":    kind,
	})
}

// Close closes the audit logger
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.Log(EventServiceStop, "info", "Audit logging stopped", nil)
	return l.file.Close()
}

// LogPath returns the current audit log path
func (l *Logger) LogPath() string {
	if l == nil {
		return ""
	}
	return l.logPath
}
