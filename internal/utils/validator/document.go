// internal/utils/validator/document.go
package validator

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/tender-ingest/internal/agent/document"
	"github.com/feichai0017/tender-ingest/internal/dedup"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// FormatDetector is the part of the format detector the validator needs.
type FormatDetector interface {
	Detect(filename string, data []byte) (document.Parser, models.FormatFamily, error)
}

// DocumentValidator 上传文件验证器
type DocumentValidator struct {
	logger   logger.Logger
	config   *ValidatorConfig
	detector FormatDetector
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize int64 // 最大文件大小（字节）
	// RejectUnsupported refuses files no parser recognizes instead of letting
	// them fail as unsupported_format documents.
	RejectUnsupported bool
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Family    string `json:"family"`
	Hash      string `json:"hash"`
	Data      []byte `json:"-"`
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, detector FormatDetector, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{MaxFileSize: 200 * 1024 * 1024}
	}
	return &DocumentValidator{logger: log, config: config, detector: detector}
}

// ValidateFile reads the upload once, digests it and checks it. The bytes are
// kept on the result so the caller does not open the file again.
func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filepath.Base(file.Filename),
			Size:      file.Size,
			Extension: strings.ToLower(filepath.Ext(file.Filename)),
		},
	}

	// 超限的文件不读取
	if file.Size > v.config.MaxFileSize {
		result.IsValid = false
		result.Errors = v.performBasicValidation(result.FileInfo)
		return result, nil
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, v.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	result.FileInfo.Size = int64(len(data))
	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = errs
		return result, nil
	}

	result.FileInfo.Data = data
	result.FileInfo.Hash = dedup.Digest(data)
	result.FileInfo.MimeType = http.DetectContentType(data)

	// 格式识别
	family := models.FamilyUnknown
	if _, fam, err := v.detector.Detect(result.FileInfo.Filename, data); err == nil {
		family = fam
	} else if v.config.RejectUnsupported {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{
			Code:    "UNSUPPORTED_FORMAT",
			Message: fmt.Sprintf("File type %s is not supported", result.FileInfo.Extension),
			Field:   "extension",
		})
	}
	result.FileInfo.Family = string(family)

	return result, nil
}

// ValidateFiles 批量验证文件
func (v *DocumentValidator) ValidateFiles(ctx context.Context, files []*multipart.FileHeader) ([]*ValidationResult, error) {
	results := make([]*ValidationResult, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, file := range files {
		g.Go(func() error {
			result, err := v.ValidateFile(file)
			if err != nil {
				return fmt.Errorf("%s: %w", file.Filename, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errs []ValidationError

	if info.Filename == "" || info.Filename == "." || info.Filename == "/" {
		errs = append(errs, ValidationError{
			Code:    "MISSING_FILENAME",
			Message: "File name is required",
			Field:   "filename",
		})
	}
	if info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if info.Size == 0 {
		errs = append(errs, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "File is empty",
			Field:   "size",
		})
	}
	return errs
}
