// Package filetype decides which files can be turned into a knowledge graph
// and how they are described and sent.
package filetype

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	"github.com/samber/lo"
)

type Category int

const (
	Unsupported Category = iota
	Document
	Code
)

func (c Category) String() string {
	switch c {
	case Document:
		return "document"
	case Code:
		return "code"
	default:
		return "unsupported"
	}
}

var (
	DocumentExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".rtf", ".md"}
	CodeExtensions     = []string{
		".js", ".ts", ".py", ".java", ".cpp", ".c", ".cs", ".php", ".rb",
		".go", ".rs", ".swift", ".kt", ".jsx", ".tsx", ".vue", ".svelte",
	}
)

var descriptions = map[string]string{
	".pdf":    "PDF Document",
	".doc":    "Microsoft Word Document",
	".docx":   "Microsoft Word Document",
	".txt":    "Text Document",
	".rtf":    "Rich Text Document",
	".md":     "Markdown Document",
	".js":     "JavaScript File",
	".ts":     "TypeScript File",
	".py":     "Python File",
	".java":   "Java File",
	".cpp":    "C++ File",
	".c":      "C File",
	".cs":     "C# File",
	".php":    "PHP File",
	".rb":     "Ruby File",
	".go":     "Go File",
	".rs":     "Rust File",
	".swift":  "Swift File",
	".kt":     "Kotlin File",
	".jsx":    "React JSX File",
	".tsx":    "React TSX File",
	".vue":    "Vue File",
	".svelte": "Svelte File",
}

var documentContentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".rtf":  "application/rtf",
	".md":   "text/markdown",
}

const (
	DefaultMaxDocumentSize = "25MiB"
	DefaultMaxCodeSize     = "10MiB"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
)

// ValidationError explains why a file was rejected. Its message is meant
// for the user.
type ValidationError struct {
	Err   error
	Name  string
	Size  int64
	Limit int64
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrTooLarge) {
		mb := strconv.FormatFloat(float64(e.Limit)/units.MiB, 'f', -1, 64)
		return fmt.Sprintf("File too large. Please upload a file smaller than %sMB.", mb)
	}
	return "Unsupported file type. Please upload a document or source code file."
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Limits are the maximum upload sizes in bytes per category.
type Limits struct {
	Document int64
	Code     int64
}

func DefaultLimits() Limits {
	return Limits{Document: 25 * units.MiB, Code: 10 * units.MiB}
}

// ParseLimits reads human sizes such as "25MiB" or "10m".
func ParseLimits(document, code string) (Limits, error) {
	doc, err := units.RAMInBytes(document)
	if err != nil {
		return Limits{}, fmt.Errorf("invalid document size %q: %w", document, err)
	}
	c, err := units.RAMInBytes(code)
	if err != nil {
		return Limits{}, fmt.Errorf("invalid code size %q: %w", code, err)
	}
	if doc <= 0 || c <= 0 {
		return Limits{}, fmt.Errorf("size limits must be positive")
	}
	return Limits{Document: doc, Code: c}, nil
}

// For returns the limit that applies to category.
func (l Limits) For(category Category) int64 {
	if category == Document {
		return l.Document
	}
	return l.Code
}

// Info describes an accepted file.
type Info struct {
	Name        string
	Ext         string
	Category    Category
	Description string
	ContentType string
	Size        int64
}

// Ext returns the lower-cased extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func Classify(name string) Category {
	ext := Ext(name)
	switch {
	case lo.Contains(DocumentExtensions, ext):
		return Document
	case lo.Contains(CodeExtensions, ext):
		return Code
	default:
		return Unsupported
	}
}

func IsDocument(name string) bool { return Classify(name) == Document }

// Describe returns a human name for the file type, e.g. "Go File".
func Describe(name string) string {
	if d, ok := descriptions[Ext(name)]; ok {
		return d
	}
	return "Unknown File Type"
}

// ContentType returns the MIME type sent with the upload.
func ContentType(name string) string {
	ext := Ext(name)
	if ct, ok := documentContentTypes[ext]; ok {
		return ct
	}
	// The system table maps some source extensions to media types (.ts is
	// MPEG transport stream), so code is always sent as text.
	if lo.Contains(CodeExtensions, ext) {
		if ext == ".js" || ext == ".jsx" {
			return "text/javascript"
		}
		return "text/plain"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Validate checks the extension and the size of a file about to be uploaded.
func Validate(name string, size int64, limits Limits) (Info, error) {
	category := Classify(name)
	if category == Unsupported {
		return Info{}, &ValidationError{Err: ErrUnsupportedType, Name: name, Size: size}
	}
	if limit := limits.For(category); size > limit {
		return Info{}, &ValidationError{Err: ErrTooLarge, Name: name, Size: size, Limit: limit}
	}
	return newInfo(name, size), nil
}

func newInfo(name string, size int64) Info {
	return Info{
		Name:        filepath.Base(name),
		Ext:         Ext(name),
		Category:    Classify(name),
		Description: Describe(name),
		ContentType: ContentType(name),
		Size:        size,
	}
}
