package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUploadSize = 10 << 20 // 10 MB

	KindImages = "images"
	KindFiles  = "files"
)

var imageTypes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var fileTypes = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".csv":  true,
	".txt":  true,
}

// Uploader stores user uploads below Dir and serves them from /uploads/.
type Uploader struct {
	Dir string
	now func() time.Time
}

func NewUploader(dir string) *Uploader {
	return &Uploader{Dir: dir, now: time.Now}
}

func IsImageExt(name string) bool {
	return imageTypes[strings.ToLower(filepath.Ext(name))]
}

// Save writes the upload under Dir/kind and returns its public URL path.
// Images only accept image extensions; files accept images and documents.
func (u *Uploader) Save(file multipart.File, header *multipart.FileHeader, kind string) (string, error) {
	if header.Size > MaxUploadSize {
		return "", NewError(http.StatusBadRequest, fmt.Sprintf("file size exceeds maximum limit of %d MB", MaxUploadSize/(1<<20)))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := imageTypes[ext] || (kind == KindFiles && fileTypes[ext])
	if !allowed {
		return "", NewError(http.StatusBadRequest, fmt.Sprintf("invalid file type: %q", ext))
	}

	dir := filepath.Join(u.Dir, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	filename := fmt.Sprintf("%s-%s%s", u.now().Format("20060102"), uuid.New().String(), ext)
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(file, MaxUploadSize+1)); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}

	return path.Join("/uploads", kind, filename), nil
}

// Delete removes a file previously returned by Save. Unknown paths are ignored.
func (u *Uploader) Delete(url string) error {
	rel := strings.TrimPrefix(url, "/uploads/")
	if rel == url || rel == "" {
		return nil
	}
	full := filepath.Join(u.Dir, filepath.FromSlash(path.Clean("/"+rel)))

	if _, err := os.Stat(full); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(full)
}
