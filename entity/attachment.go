package entity

import (
	"errors"
	"fmt"
)

// MaxFileSize is the maximum allowed attachment size (2 MB).
const MaxFileSize = 2 << 20

// ErrFileTooLarge is returned when an attachment exceeds MaxFileSize.
var ErrFileTooLarge = errors.New("file too large")

// FileTooLargeError wraps ErrFileTooLarge with details about the offending file.
func FileTooLargeError(filename string, size int64) error {
	return fmt.Errorf("%w: %q is %d bytes, limit is %d MB", ErrFileTooLarge, filename, size, MaxFileSize>>20)
}

// Attachment references a file carried by a Message. The server stores the
// bytes; the client only keeps the reference.
type Attachment struct {
	FileID   string `json:"file_id" bson:"file_id"`
	Filename string `json:"filename" bson:"filename"`
	MIMEType string `json:"mime_type" bson:"mime_type"`
	Size     int64  `json:"size" bson:"size"`
	URL      string `json:"url,omitempty" bson:"-"`
}
