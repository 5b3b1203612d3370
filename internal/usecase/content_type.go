package usecase

import (
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMediaType = "video/mp4"

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// contentTypeByName resolves a media type from the file extension alone.
func contentTypeByName(name string) (string, bool) {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return "", false
	}
	if ct, ok := mediaTypes[ext]; ok {
		return ct, true
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct, true
	}
	return "", false
}

// ContentTypeFor resolves the media type of a torrent file, which cannot be
// sniffed before its first piece arrives.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypeByName(name); ok {
		return ct
	}
	return defaultMediaType
}

// sniffContentType resolves a local file's type, reading its header when the
// extension is unknown. r is rewound before returning.
func sniffContentType(name string, r io.ReadSeeker) string {
	if ct, ok := contentTypeByName(name); ok {
		return ct
	}
	mt, err := mimetype.DetectReader(r)
	if _, serr := r.Seek(0, io.SeekStart); serr != nil || err != nil || mt == nil {
		return defaultMediaType
	}
	if mt.Is("application/octet-stream") {
		return defaultMediaType
	}
	return mt.String()
}
