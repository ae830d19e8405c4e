// Package utils provides shared helpers for file classification, hashing,
// and identifier generation used across modules.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// VideoExtensions contains the container extensions treated as video media.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpg":  true,
	".mpeg": true,
	".ts":   true,
	".m2ts": true,
	".3gp":  true,
	".ogv":  true,
	".vob":  true,
}

// AudioExtensions contains the extensions treated as audio media.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".aac":  true,
	".ogg":  true,
	".oga":  true,
	".wma":  true,
	".m4a":  true,
	".opus": true,
	".aiff": true,
	".alac": true,
	".ape":  true,
	".dsf":  true,
}

// ImageExtensions contains the extensions treated as picture media. The same
// set doubles as the artwork sidecar whitelist for video and music sections.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".heic": true,
}

// SubtitleExtensions contains sidecar subtitle extensions. These are never
// media items themselves; the resolver attaches them to a neighbouring part.
var SubtitleExtensions = map[string]bool{
	".srt":  true,
	".vtt":  true,
	".ass":  true,
	".ssa":  true,
	".ttml": true,
	".smi":  true,
	".sub":  true,
	".idx":  true, // VobSub index, paired with .sub
	".sup":  true, // Blu-ray PGS dump
}

// MetadataSidecarExtensions contains local metadata files consumed by the
// sidecar parsers rather than scanned as media.
var MetadataSidecarExtensions = map[string]bool{
	".nfo":  true,
	".xml":  true,
	".json": true,
}

// FileCategory is the coarse classification the scanner routes on.
type FileCategory int

const (
	CategoryOther FileCategory = iota
	CategoryVideo
	CategoryAudio
	CategoryImage
	CategorySubtitle
	CategoryMetadata
)

// Classify buckets a path by extension. Classification is purely lexical;
// callers that need to distinguish artwork sidecars from photo media do so
// by section kind.
func Classify(path string) FileCategory {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case VideoExtensions[ext]:
		return CategoryVideo
	case AudioExtensions[ext]:
		return CategoryAudio
	case ImageExtensions[ext]:
		return CategoryImage
	case SubtitleExtensions[ext]:
		return CategorySubtitle
	case MetadataSidecarExtensions[ext]:
		return CategoryMetadata
	default:
		return CategoryOther
	}
}

// IsVideoFile reports whether the path has a video container extension.
func IsVideoFile(path string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsAudioFile reports whether the path has an audio extension.
func IsAudioFile(path string) bool {
	return AudioExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsImageFile reports whether the path has an image extension.
func IsImageFile(path string) bool {
	return ImageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsSubtitleFile reports whether the path has a sidecar subtitle extension.
func IsSubtitleFile(path string) bool {
	return SubtitleExtensions[strings.ToLower(filepath.Ext(path))]
}

// ContainerFromPath returns the lowercase extension without the leading dot,
// which is how container formats are stored on media parts.
func ContainerFromPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// CalculateFileHashSampled fingerprints a file by hashing its size plus 1MB
// samples from the start, middle, and end. Reading three megabytes of a
// 40GB remux gives good-enough uniqueness for change detection without the
// cost of a full read.
func CalculateFileHashSampled(filePath string, fileSize int64) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	sampleSize := int64(1024 * 1024)

	fmt.Fprintf(hasher, "size:%d", fileSize)

	buffer := make([]byte, sampleSize)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}
	hasher.Write(buffer[:n])

	if fileSize > sampleSize*3 {
		middleOffset := (fileSize / 2) - (sampleSize / 2)
		if _, err := file.Seek(middleOffset, io.SeekStart); err != nil {
			return "", err
		}
		n, err = file.Read(buffer)
		if err != nil && err != io.EOF {
			return "", err
		}
		hasher.Write(buffer[:n])
	}

	if fileSize > sampleSize*2 {
		lastOffset := fileSize - sampleSize
		if lastOffset < 0 {
			lastOffset = 0
		}
		if _, err := file.Seek(lastOffset, io.SeekStart); err != nil {
			return "", err
		}
		n, err = file.Read(buffer)
		if err != nil && err != io.EOF {
			return "", err
		}
		hasher.Write(buffer[:n])
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
