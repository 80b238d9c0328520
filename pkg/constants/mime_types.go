package constants

import "strings"

// MIME types for content exchanged by the API and the dataset readers
const (
	MimeTypeJSON        = "application/json"
	MimeTypePlainText   = "text/plain"
	MimeTypeOctetStream = "application/octet-stream"
	MimeTypeCSV         = "text/csv"
	MimeTypeTSV         = "text/tab-separated-values"
	MimeTypePNG         = "image/png"
)

// Declared dataset file types
const (
	FileTypeCSV  = ".csv"
	FileTypeTSV  = ".tsv"
	FileTypeJSON = ".json"
)

var fileTypeMimeTypes = map[string]string{
	FileTypeCSV:  MimeTypeCSV,
	FileTypeTSV:  MimeTypeTSV,
	FileTypeJSON: MimeTypeJSON,
}

// NormalizeFileType lower-cases a declared type and adds the leading dot.
func NormalizeFileType(fileType string) string {
	fileType = strings.ToLower(strings.TrimSpace(fileType))
	if fileType != "" && !strings.HasPrefix(fileType, ".") {
		fileType = "." + fileType
	}
	return fileType
}

// MimeTypeForFileType returns the MIME type for a declared dataset type.
func MimeTypeForFileType(fileType string) string {
	if mime, ok := fileTypeMimeTypes[NormalizeFileType(fileType)]; ok {
		return mime
	}
	return MimeTypeOctetStream
}

// IsSupportedFileType reports whether a dataset reader exists for the type.
func IsSupportedFileType(fileType string) bool {
	_, ok := fileTypeMimeTypes[NormalizeFileType(fileType)]
	return ok
}
