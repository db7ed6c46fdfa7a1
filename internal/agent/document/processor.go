package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/tender-ingest/internal/models"
)

// Parser 文档解析器接口, 每个格式族一个实现
type Parser interface {
	// Family 返回解析器负责的格式族
	Family() models.FormatFamily

	// Extensions 返回支持的扩展名 (小写, 带点)
	Extensions() []string

	// Parse 解析文档并返回统一的内容结构
	Parse(ctx context.Context, file *File) (*models.ParsedContent, error)

	// ExtractMetadata 只提取元数据
	ExtractMetadata(ctx context.Context, file *File) (map[string]interface{}, error)
}

// File is the input handed to a parser. Data holds the full bytes; Path is set
// when the bytes also exist on disk, which external converters need.
type File struct {
	Name string
	Path string
	Data []byte
}

// Ext returns the lower-cased extension of the file name.
func (f *File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Bytes returns Data, reading Path when Data is empty.
func (f *File) Bytes() ([]byte, error) {
	if f.Data != nil || f.Path == "" {
		return f.Data, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	f.Data = data
	return data, nil
}

// Error is a fatal parse failure carrying the reason stored on the document.
type Error struct {
	Reason models.FailureReason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err with a failure reason.
func Fail(reason models.FailureReason, err error) error {
	return &Error{Reason: reason, Err: err}
}

// Failf is Fail with a formatted message.
func Failf(reason models.FailureReason, format string, args ...interface{}) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ReasonOf extracts the failure reason from err, defaulting to corrupt_input
// for errors that carry none.
func ReasonOf(err error) models.FailureReason {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return models.ReasonCorruptInput
}
