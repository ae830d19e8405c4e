package utils

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPRange represents a parsed HTTP Range header.
type HTTPRange struct {
	Start int64
	End   int64
}

// ParseRangeHeader parses a "bytes=start-end" Range header against the given
// file size. Suffix ranges ("bytes=-N") are rejected; no client we serve
// uses them for media.
func ParseRangeHeader(rangeHeader string, fileSize int64) (*HTTPRange, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return nil, fmt.Errorf("invalid range header format")
	}

	rangeSpec := strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(rangeSpec, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range specification")
	}

	r := &HTTPRange{}
	var err error

	if parts[0] == "" {
		return nil, fmt.Errorf("suffix byte range not supported")
	}
	r.Start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || r.Start < 0 {
		return nil, fmt.Errorf("invalid start byte")
	}

	if parts[1] != "" {
		r.End, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || r.End >= fileSize {
			r.End = fileSize - 1
		}
	} else {
		r.End = fileSize - 1
	}

	if r.Start > r.End || r.Start >= fileSize {
		return nil, fmt.Errorf("invalid byte range")
	}

	return r, nil
}

// GetMediaContentType returns the MIME type for a media container format.
func GetMediaContentType(container string) string {
	switch strings.ToLower(container) {
	// Video
	case "mp4", "m4v":
		return "video/mp4"
	case "mkv", "matroska":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	case "avi":
		return "video/x-msvideo"
	case "flv":
		return "video/x-flv"
	case "wmv":
		return "video/x-ms-wmv"
	case "mpg", "mpeg":
		return "video/mpeg"
	case "ts", "mts", "m2ts":
		return "video/mp2t"
	case "3gp":
		return "video/3gpp"
	case "ogv":
		return "video/ogg"

	// Audio
	case "mp3":
		return "audio/mpeg"
	case "aac", "m4a":
		return "audio/mp4"
	case "ogg", "oga":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/opus"
	case "wma":
		return "audio/x-ms-wma"

	// Subtitles
	case "srt", "subrip":
		return "text/plain; charset=utf-8"
	case "vtt", "webvtt":
		return "text/vtt"
	case "ass", "ssa":
		return "text/x-ssa"

	default:
		return "application/octet-stream"
	}
}

// ServeFileWithRange serves a file with HTTP range support, which players
// rely on for seeking within direct-play streams.
func ServeFileWithRange(w http.ResponseWriter, r *http.Request, filePath string, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	fileSize := fileInfo.Size()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
		w.WriteHeader(http.StatusOK)
		return nil
	}

	// A direct-play response can stay open for the length of playback,
	// far past any server write timeout. Clear the deadline for this
	// response only.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
		w.WriteHeader(http.StatusOK)
		_, err = io.Copy(w, file)
		return err
	}

	httpRange, err := ParseRangeHeader(rangeHeader, fileSize)
	if err != nil {
		http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if _, err = file.Seek(httpRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	contentLength := httpRange.End - httpRange.Start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", httpRange.Start, httpRange.End, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.WriteHeader(http.StatusPartialContent)

	_, err = io.CopyN(w, file, contentLength)
	return err
}
