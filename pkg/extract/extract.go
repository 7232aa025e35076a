// Package extract provides the content extraction collaborator used by file_process steps.
package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileSize mirrors the upload limit of the ingestion pipeline.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

var (
	// ErrFileNotFound indicates no stored file matches the reference.
	ErrFileNotFound = errors.New("file not found")

	// ErrUnsupportedType indicates the file type has no text extractor.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrFileTooLarge indicates the file exceeds the extraction limit.
	ErrFileTooLarge = errors.New("file too large")

	validFileID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Result is the extracted text plus per-type metadata.
type Result struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Extractor turns a stored file into text.
type Extractor interface {
	Extract(ctx context.Context, fileID string) (*Result, error)
}

// DirectoryExtractor reads files stored by the ingestion pipeline under a root
// directory, named either <file_id> or <file_id>.<ext>.
type DirectoryExtractor struct {
	root        string
	maxFileSize int64
	logger      *slog.Logger
}

// NewDirectoryExtractor creates an extractor rooted at root.
func NewDirectoryExtractor(root string, logger *slog.Logger) *DirectoryExtractor {
	return &DirectoryExtractor{
		root:        strings.Replace(root, "file://", "", 1),
		maxFileSize: DefaultMaxFileSize,
		logger:      logger.With("module", "extractor"),
	}
}

// Extract locates the file and extracts its content according to its extension.
func (d *DirectoryExtractor) Extract(ctx context.Context, fileID string) (*Result, error) {
	path, err := d.locate(fileID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}

	if info.Size() > d.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	mime := mimetype.Detect(data)

	metadata := map[string]any{
		"file_id":     fileID,
		"filename":    filepath.Base(path),
		"extension":   ext,
		"size":        info.Size(),
		"mime_type":   mime.String(),
		"modified_at": info.ModTime().UTC(),
	}

	var content string

	switch ext {
	case ".csv":
		content, err = extractCSV(data, metadata)
	case ".txt", ".md", ".json", ".log", "":
		content, err = extractText(data, metadata)
	default:
		if strings.HasPrefix(mime.String(), "text/") {
			content, err = extractText(data, metadata)
		} else {
			err = fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, ext, mime.String())
		}
	}

	if err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "Extracted file content", "file_id", fileID, "extension", ext, "content_length", len(content))

	return &Result{Content: content, Metadata: metadata}, nil
}

func (d *DirectoryExtractor) locate(fileID string) (string, error) {
	if !validFileID.MatchString(fileID) || strings.Contains(fileID, "..") {
		return "", fmt.Errorf("%w: invalid file id %q", ErrFileNotFound, fileID)
	}

	exact := filepath.Join(d.root, fileID)
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	matches, err := filepath.Glob(filepath.Join(d.root, fileID+".*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}

	return matches[0], nil
}

func extractText(data []byte, metadata map[string]any) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: content is not valid UTF-8 text", ErrUnsupportedType)
	}

	text := string(data)
	metadata["line_count"] = strings.Count(text, "\n") + 1
	metadata["word_count"] = len(strings.Fields(text))

	return text, nil
}

func extractCSV(data []byte, metadata map[string]any) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var (
		lines   []string
		headers []string
		columns int
	)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return "", fmt.Errorf("failed to parse csv: %w", err)
		}

		if headers == nil {
			headers = record
		}

		columns = max(columns, len(record))
		lines = append(lines, strings.Join(record, "\t"))
	}

	rows := len(lines)
	if rows > 0 {
		rows--
	}

	metadata["headers"] = headers
	metadata["row_count"] = rows
	metadata["column_count"] = columns

	return strings.Join(lines, "\n"), nil
}
