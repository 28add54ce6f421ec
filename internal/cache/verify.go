package cache

import (
	"fmt"
	"mime"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mesophy/signaged/internal/config"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/model"
)

// Equivalent spellings of the same media type.
var mimeAliases = map[string]string{
	"image/jpg":       "image/jpeg",
	"image/pjpeg":     "image/jpeg",
	"image/x-png":     "image/png",
	"video/mov":       "video/quicktime",
	"video/x-m4v":     "video/mp4",
	"video/x-msvideo": "video/avi",
	"video/msvideo":   "video/avi",
}

type verified struct {
	size     int64
	mimeType string
}

func verify(path string, asset model.MediaAsset, contentType string) (verified, error) {
	info, err := os.Stat(path)
	if err != nil {
		return verified{}, apperrors.VerificationFailed(asset.ID, err.Error())
	}
	size := info.Size()

	if size < config.MinMediaFileSize {
		return verified{}, apperrors.VerificationFailed(asset.ID,
			fmt.Sprintf("file too small (%d bytes)", size))
	}
	if asset.ExpectedSize > 0 && size != asset.ExpectedSize {
		return verified{}, apperrors.VerificationFailed(asset.ID,
			fmt.Sprintf("size mismatch: expected %d, got %d", asset.ExpectedSize, size))
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return verified{}, apperrors.VerificationFailed(asset.ID, err.Error())
	}

	declared := asset.MimeType
	if declared == "" {
		declared = contentType
	}
	if !compatible(declared, detected) {
		return verified{}, apperrors.VerificationFailed(asset.ID,
			fmt.Sprintf("content is %s, expected %s", detected.String(), declared))
	}

	return verified{size: size, mimeType: NormalizeMime(detected.String())}, nil
}

// NormalizeMime lowercases, drops parameters and folds known aliases.
func NormalizeMime(value string) string {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(value))
	}
	if canonical, ok := mimeAliases[mediaType]; ok {
		return canonical
	}
	return mediaType
}

// compatible accepts the detected type when it matches the declared one, is
// in the same image or video family, or the content has no known signature.
func compatible(declared string, detected *mimetype.MIME) bool {
	want := NormalizeMime(declared)
	if want == "" || want == "application/octet-stream" {
		return true
	}

	got := NormalizeMime(detected.String())
	if got == "application/octet-stream" {
		return true
	}
	if want == got || detected.Is(want) {
		return true
	}

	wantFamily := family(want)
	return wantFamily != "" && wantFamily == family(got)
}

func family(mediaType string) string {
	top, _, _ := strings.Cut(mediaType, "/")
	switch top {
	case "image", "video", "audio":
		return top
	default:
		return ""
	}
}
