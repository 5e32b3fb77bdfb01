package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/cramcortex-be/types"
)

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tiff": "image/tiff",
}

// FileService owns the upload directory. Files are stored under their
// document id so the pipeline can resolve them without a database.
type FileService struct {
	uploadDir string
}

func NewFileService(uploadDir string) (*FileService, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &FileService{uploadDir: uploadDir}, nil
}

// Save stores an uploaded file and returns its document record.
func (s *FileService) Save(header *multipart.FileHeader) (*types.Document, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, ext)
	}

	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	documentID := uuid.NewString()
	destPath := filepath.Join(s.uploadDir, documentID+ext)
	dst, err := os.Create(destPath)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	return &types.Document{
		ID:          documentID,
		Filename:    header.Filename,
		StoragePath: destPath,
		ContentType: contentType,
		Size:        size,
		Status:      types.StatusUploaded,
		UploadedAt:  time.Now().Unix(),
	}, nil
}

// SaveLocal copies a local file into the upload directory, for the CLI path.
func (s *FileService) SaveLocal(sourcePath string) (*types.Document, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, ext)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	documentID := uuid.NewString()
	destPath := filepath.Join(s.uploadDir, documentID+ext)
	dst, err := os.Create(destPath)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to copy file: %w", err)
	}

	return &types.Document{
		ID:          documentID,
		Filename:    filepath.Base(sourcePath),
		StoragePath: destPath,
		ContentType: contentType,
		Size:        size,
		Status:      types.StatusUploaded,
		UploadedAt:  time.Now().Unix(),
	}, nil
}

// Resolve implements DocumentSource: document id to stored path and type.
func (s *FileService) Resolve(documentID string) (string, string, error) {
	matches, err := filepath.Glob(filepath.Join(s.uploadDir, documentID+".*"))
	if err != nil || len(matches) == 0 {
		return "", "", fmt.Errorf("document file not found for id %s", documentID)
	}
	path := matches[0]
	contentType, ok := allowedExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, filepath.Ext(path))
	}
	return path, contentType, nil
}

// Delete removes a stored document, honoring the retention policy.
func (s *FileService) Delete(documentID string) error {
	path, _, err := s.Resolve(documentID)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
