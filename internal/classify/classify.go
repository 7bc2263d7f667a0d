// Package classify maps filenames and MIME types to semantic file categories.
package classify

import (
	"path/filepath"
	"strings"

	"github.com/kalambet/attachd/internal/storage"
)

// mimeCategories maps declared MIME types to categories. Unlisted types fall
// back to extension detection.
var mimeCategories = map[string]storage.Category{
	"audio/mpeg": storage.CategoryAudio,
	"audio/mp3":  storage.CategoryAudio,
	"audio/wav":  storage.CategoryAudio,
	"audio/ogg":  storage.CategoryAudio,
	"audio/m4a":  storage.CategoryAudio,
	"audio/aac":  storage.CategoryAudio,
	"audio/flac": storage.CategoryAudio,

	"image/jpeg":    storage.CategoryImage,
	"image/jpg":     storage.CategoryImage,
	"image/png":     storage.CategoryImage,
	"image/gif":     storage.CategoryImage,
	"image/webp":    storage.CategoryImage,
	"image/svg+xml": storage.CategoryImage,
	"image/bmp":     storage.CategoryImage,
	"image/tiff":    storage.CategoryImage,

	"text/plain":               storage.CategoryText,
	"text/markdown":            storage.CategoryText,
	"text/html":                storage.CategoryText,
	"text/css":                 storage.CategoryText,
	"text/javascript":          storage.CategoryText,
	"application/json":         storage.CategoryText,
	"application/xml":          storage.CategoryText,
	"text/tab-separated-values": storage.CategoryText,

	"application/pdf":    storage.CategoryDocument,
	"application/msword": storage.CategoryDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   storage.CategoryDocument,
	"application/vnd.ms-excel": storage.CategoryDocument,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         storage.CategoryDocument,
	"application/vnd.ms-powerpoint": storage.CategoryDocument,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": storage.CategoryDocument,
	"text/csv": storage.CategoryDocument,
	"application/vnd.oasis.opendocument.spreadsheet":   storage.CategoryDocument,
	"application/vnd.oasis.opendocument.text":          storage.CategoryDocument,
	"application/vnd.oasis.opendocument.presentation":  storage.CategoryDocument,
	"application/rtf":   storage.CategoryDocument,
	"application/x-rtf": storage.CategoryDocument,

	"application/zip":              storage.CategoryArchive,
	"application/x-tar":            storage.CategoryArchive,
	"application/gzip":             storage.CategoryArchive,
	"application/x-rar-compressed": storage.CategoryArchive,
}

// extCategories maps lowercase file extensions (without dot) to categories.
var extCategories = map[string]storage.Category{
	"mp3": storage.CategoryAudio, "wav": storage.CategoryAudio, "ogg": storage.CategoryAudio,
	"m4a": storage.CategoryAudio, "aac": storage.CategoryAudio, "flac": storage.CategoryAudio,
	"mpga": storage.CategoryAudio,

	"jpg": storage.CategoryImage, "jpeg": storage.CategoryImage, "png": storage.CategoryImage,
	"gif": storage.CategoryImage, "webp": storage.CategoryImage, "svg": storage.CategoryImage,
	"bmp": storage.CategoryImage, "tif": storage.CategoryImage, "tiff": storage.CategoryImage,

	"txt": storage.CategoryText, "md": storage.CategoryText, "html": storage.CategoryText,
	"css": storage.CategoryText, "js": storage.CategoryText, "json": storage.CategoryText,
	"xml": storage.CategoryText, "py": storage.CategoryText, "sql": storage.CategoryText,
	"go": storage.CategoryText, "tsv": storage.CategoryText,

	"pdf": storage.CategoryDocument, "doc": storage.CategoryDocument, "docx": storage.CategoryDocument,
	"xls": storage.CategoryDocument, "xlsx": storage.CategoryDocument, "ppt": storage.CategoryDocument,
	"pptx": storage.CategoryDocument, "csv": storage.CategoryDocument, "ods": storage.CategoryDocument,
	"odt": storage.CategoryDocument, "odp": storage.CategoryDocument, "rtf": storage.CategoryDocument,

	"zip": storage.CategoryArchive, "tar": storage.CategoryArchive, "gz": storage.CategoryArchive,
	"rar": storage.CategoryArchive,
}

// Detect returns the semantic category for a file given its name and an
// optional declared MIME type. The MIME type wins when recognized; otherwise
// the extension decides. Unrecognized files are CategoryOther — Detect is
// total and never fails.
func Detect(filename, mimeType string) storage.Category {
	if mimeType != "" {
		// Strip parameters such as "; charset=utf-8".
		base := mimeType
		if i := strings.IndexByte(base, ';'); i >= 0 {
			base = base[:i]
		}
		if c, ok := mimeCategories[strings.ToLower(strings.TrimSpace(base))]; ok {
			return c
		}
	}
	return FromExtension(filename)
}

// FromExtension classifies by file extension alone.
func FromExtension(filename string) storage.Category {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return storage.CategoryOther
	}
	if c, ok := extCategories[ext]; ok {
		return c
	}
	return storage.CategoryOther
}

// AllowedExtension reports whether the extension is one the service accepts
// for upload.
func AllowedExtension(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	_, ok := extCategories[ext]
	return ok
}
