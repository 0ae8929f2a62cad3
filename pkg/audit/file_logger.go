package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger writes audit events to a file as JSON lines.
type FileLogger struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
}

// FileLoggerConfig configures the file logger.
type FileLoggerConfig struct {
	BasePath string // Base directory for audit logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of files to keep (default: 10)
}

// DefaultFileLoggerConfig returns default configuration.
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/lantern/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileLogger creates a new file-based audit logger.
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}

	if logger.maxSize == 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles == 0 {
		logger.maxFiles = 10
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}

	return logger, nil
}

// openLogFile opens or creates the current log file.
func (l *FileLogger) openLogFile() error {
	filename := filepath.Join(l.basePath, "audit.log")

	if l.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	l.file = file
	l.encoder = json.NewEncoder(file)

	return nil
}

// rotateFile moves the current log file aside and prunes old rotations.
func (l *FileLogger) rotateFile() error {
	currentFile := filepath.Join(l.basePath, "audit.log")

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	timestamp := time.Now().Format("2006-01-02-15-04-05")
	rotatedFile := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", timestamp))

	if err := os.Rename(currentFile, rotatedFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	return l.pruneOldFiles()
}

// pruneOldFiles removes rotated files beyond the retention count.
func (l *FileLogger) pruneOldFiles() error {
	matches, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil {
		return err
	}

	if len(matches) <= l.maxFiles {
		return nil
	}

	// Glob output is sorted lexically; the timestamp format makes that
	// oldest-first.
	for _, stale := range matches[:len(matches)-l.maxFiles] {
		if err := os.Remove(stale); err != nil {
			return fmt.Errorf("failed to remove old audit log %s: %w", stale, err)
		}
	}

	return nil
}

// Log writes a single event as a JSON line.
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.openLogFile(); err != nil {
			return err
		}
	}

	if l.rotate {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateFile(); err != nil {
				return err
			}
			if err := l.openLogFile(); err != nil {
				return err
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	return nil
}

// LogAccessDecision records the outcome of an access check.
func (l *FileLogger) LogAccessDecision(ctx context.Context, subject string, roles []string, tenant, nodeID string, allowed bool, path string) error {
	return l.Log(ctx, NewAccessEvent(subject, roles, tenant, nodeID, allowed, path))
}

// Close closes the underlying file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil
	l.encoder = nil
	return err
}
