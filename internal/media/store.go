// Package media stores binary tool output (screenshots) on disk and hands
// back stable references for the artifact log.
package media

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/computeruse/agentd/internal/common/config"
	"github.com/computeruse/agentd/internal/common/logger"
)

// Ref points at one stored media object.
type Ref struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
	Path string `json:"-"`
}

// Store writes media files under one directory and serves them by URL.
type Store struct {
	dir     string
	baseURL string
	logger  *logger.Logger
}

// New creates the media directory if needed.
func New(cfg config.MediaConfig, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &Store{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  log,
	}, nil
}

// Dir returns the on-disk media directory.
func (s *Store) Dir() string {
	return s.dir
}

// SavePNG decodes a base64-encoded PNG, writes it under a fresh name and
// returns its URL and sha256 content hash.
func (s *Store) SavePNG(b64 string) (*Ref, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	sum := sha256.Sum256(data)
	name := uuid.New().String() + ".png"
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}

	ref := &Ref{
		URL:  s.baseURL + "/" + name,
		Hash: hex.EncodeToString(sum[:]),
		Path: path,
	}
	s.logger.Debug("Stored media object",
		zap.String("url", ref.URL),
		zap.Int("bytes", len(data)))
	return ref, nil
}
