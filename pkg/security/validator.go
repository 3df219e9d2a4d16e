// Package security guards the filesystem against what feeds publish: file
// names derived from titles and the size of downloaded files.
package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// Validator enforces download limits. The total size budget is shared by
// every download of the process.
type Validator struct {
	maxFileSize  int64
	maxTotalSize int64
	logger       *slog.Logger

	mu                sync.Mutex
	currentTotalSize int64
}

// NewValidator creates a validator. A non-positive limit disables it.
func NewValidator(maxFileSize, maxTotalSize int64, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("security_validator_init",
		"max_file_size_mb", maxFileSize/1024/1024,
		"max_total_size_mb", maxTotalSize/1024/1024)

	return &Validator{
		maxFileSize:  maxFileSize,
		maxTotalSize: maxTotalSize,
		logger:       logger,
	}
}

// ValidatePath checks that name stays inside the directory it is joined to.
func (v *Validator) ValidatePath(name string) error {
	if name == "" {
		return fmt.Errorf("security: empty path")
	}

	if filepath.IsAbs(name) {
		v.logger.Error("security_path_validation_failed", "path", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", name)
	}

	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		v.logger.Error("security_path_validation_failed", "path", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}

	return nil
}

// DestinationPath builds the path in dir where the file for title is
// stored. Separators in the title are replaced so each title maps to a single
// file name.
func (v *Validator) DestinationPath(dir, title, ext string) (string, error) {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(title))

	if name == "" || name == "." || name == ".." {
		v.logger.Error("security_path_validation_failed", "title", title, "reason", "empty_name")
		return "", fmt.Errorf("security: no usable file name in title %q", title)
	}

	name += ext
	if err := v.ValidatePath(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ValidateFileSize checks if a file exceeds max file size
func (v *Validator) ValidateFileSize(size int64) error {
	if v.maxFileSize > 0 && size > v.maxFileSize {
		v.logger.Error("security_file_size_exceeded",
			"file_size_mb", size/1024/1024,
			"max_file_size_mb", v.maxFileSize/1024/1024)
		return fmt.Errorf("security: file size %d exceeds max %d", size, v.maxFileSize)
	}
	return nil
}

// AddDownloadedSize charges size to the total budget. The size is not
// charged when it would exceed the budget.
func (v *Validator) AddDownloadedSize(size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.maxTotalSize > 0 && v.currentTotalSize+size > v.maxTotalSize {
		v.logger.Error("security_total_size_exceeded",
			"current_total_mb", v.currentTotalSize/1024/1024,
			"max_total_mb", v.maxTotalSize/1024/1024,
			"file_size_mb", size/1024/1024)
		return fmt.Errorf("security: total downloaded size %d exceeds max %d",
			v.currentTotalSize+size, v.maxTotalSize)
	}

	v.currentTotalSize += size
	return nil
}

// DownloadedSize returns the size charged so far.
func (v *Validator) DownloadedSize() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentTotalSize
}
