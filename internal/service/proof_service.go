package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/storage"
)

// ProofUpload is the stored result of a photo proof upload.
type ProofUpload struct {
	ProofID   string    `json:"proof_id"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProofDownload resolves a signed token back to the stored file.
type ProofDownload struct {
	File        *os.File
	ContentType string
	Filename    string
}

// ProofService stores rating photo proofs on disk and hands out
// HMAC-signed download tokens so the files never need public paths.
type ProofService struct {
	store        *storage.LocalStorage
	signer       *storage.SignedURLSigner
	logger       *zap.Logger
	maxSizeBytes int64
	allowedMIMEs map[string]string
}

func NewProofService(store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger, maxSizeBytes int64, allowedMIMEs []string) *ProofService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = 5 << 20
	}
	mimes := make(map[string]string, len(allowedMIMEs))
	for _, m := range allowedMIMEs {
		mimes[strings.ToLower(strings.TrimSpace(m))] = extensionFor(m)
	}
	if len(mimes) == 0 {
		mimes = map[string]string{
			"image/jpeg": ".jpg",
			"image/png":  ".png",
			"image/webp": ".webp",
		}
	}
	return &ProofService{
		store:        store,
		signer:       signer,
		logger:       logger,
		maxSizeBytes: maxSizeBytes,
		allowedMIMEs: mimes,
	}
}

// Save persists an uploaded proof and returns a signed download token.
func (s *ProofService) Save(uploaderID, contentType string, size int64, r io.Reader) (*ProofUpload, error) {
	ext, ok := s.allowedMIMEs[strings.ToLower(contentType)]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("unsupported content type: %s", contentType))
	}
	if size > s.maxSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d byte limit", s.maxSizeBytes))
	}

	proofID := uuid.NewString()
	filename := proofID + ext
	if _, err := s.store.SaveStream(filename, io.LimitReader(r, s.maxSizeBytes)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store proof file")
	}

	token, expiresAt, err := s.signer.Generate(proofID, filename)
	if err != nil {
		if removeErr := s.store.Delete(filename); removeErr != nil {
			s.logger.Warn("failed to remove orphaned proof file",
				zap.String("filename", filename), zap.Error(removeErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign proof token")
	}

	s.logger.Info("photo proof stored",
		zap.String("proof_id", proofID),
		zap.String("uploader_id", uploaderID),
		zap.Int64("size", size),
	)
	return &ProofUpload{
		ProofID:   proofID,
		Token:     token,
		URL:       "/api/v1/ratings/proofs/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve verifies a signed token and opens the underlying file.
func (s *ProofService) Resolve(token string) (*ProofDownload, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired proof token")
	}

	file, err := s.store.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "proof file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open proof file")
	}

	return &ProofDownload{
		File:        file,
		ContentType: contentTypeFor(relPath),
		Filename:    filepath.Base(relPath),
	}, nil
}

func extensionFor(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
