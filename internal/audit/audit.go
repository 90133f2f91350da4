package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kenneth/blockcrypt/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeEncrypt represents a write-path sector encryption.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeDecrypt represents a read-path sector decryption.
	EventTypeDecrypt EventType = "decrypt"
	// EventTypeKeySet represents a "key set" control message.
	EventTypeKeySet EventType = "key_set"
	// EventTypeKeyWipe represents a "key wipe" control message.
	EventTypeKeyWipe EventType = "key_wipe"
	// EventTypeAccess represents a suspend/resume or status control call.
	EventTypeAccess EventType = "access"
)

// AuditEvent represents a single audit log event for a target
// operation. Bucket/key terminology from the gateway domain is rescoped
// to target name and starting sector, the two coordinates that identify
// a mapping and a request within it.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Operation  string                 `json:"operation"`
	Target     string                 `json:"target,omitempty"`
	Sector     uint64                 `json:"sector,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Algorithm  string                 `json:"algorithm,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogEncrypt logs a write-path sector encryption.
	LogEncrypt(target string, sector uint64, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogDecrypt logs a read-path sector decryption.
	LogDecrypt(target string, sector uint64, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogKeyMessage logs a "key set" or "key wipe" control message.
	LogKeyMessage(target string, wipe bool, success bool, err error)

	// LogAccess logs a status/suspend/resume control operation.
	LogAccess(eventType, target, requestID string, success bool, err error, duration time.Duration)

	// GetEvents returns all audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:     make([]*AuditEvent, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration. A
// disabled config still returns a working in-memory logger; callers
// decide whether to wire it into the mapper's hot path based on
// cfg.Enabled.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	return NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata removes sensitive keys from metadata.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for _, k := range l.redactKeys {
		if _, ok := metadata[k]; ok {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	for _, key := range l.redactKeys {
		if _, ok := clone[key]; ok {
			clone[key] = "[REDACTED]"
		}
	}
	return clone
}

// LogEncrypt logs a write-path sector encryption.
func (l *auditLogger) LogEncrypt(target string, sector uint64, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeEncrypt,
		Operation: "encrypt",
		Target:    target,
		Sector:    sector,
		Algorithm: algorithm,
		Success:   success,
		Duration:  duration,
		Metadata:  l.redactMetadata(metadata),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogDecrypt logs a read-path sector decryption.
func (l *auditLogger) LogDecrypt(target string, sector uint64, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeDecrypt,
		Operation: "decrypt",
		Target:    target,
		Sector:    sector,
		Algorithm: algorithm,
		Success:   success,
		Duration:  duration,
		Metadata:  l.redactMetadata(metadata),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogKeyMessage logs a "key set" or "key wipe" control message: wipe
// selects between the two since both flow through the same
// message-handling path with opposite effect on suspend/resume.
func (l *auditLogger) LogKeyMessage(target string, wipe bool, success bool, err error) {
	et := EventTypeKeySet
	op := "key set"
	if wipe {
		et = EventTypeKeyWipe
		op = "key wipe"
	}
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: et,
		Operation: op,
		Target:    target,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogAccess logs a status/suspend/resume control operation.
func (l *auditLogger) LogAccess(eventType, target, requestID string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeAccess,
		Operation: eventType,
		Target:    target,
		RequestID: requestID,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
