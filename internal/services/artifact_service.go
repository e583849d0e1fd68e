package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/passhub/server/internal/models"
)

// ArtifactStore keeps the latest signed .pkpass blob for every issued
// pass, laid out as <base>/<passTypeID>/<serial>.pkpass. It only ever
// holds the freshest artifact; a content update overwrites in place.
type ArtifactStore struct {
	basePath string
}

// NewArtifactStore creates an ArtifactStore rooted at basePath
func NewArtifactStore(basePath string) (*ArtifactStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, err
	}

	return &ArtifactStore{basePath: absPath}, nil
}

// Store writes (or replaces) the artifact for a pass. The write goes
// through a temp file and rename so a concurrent fetch never sees a
// half-written blob.
func (s *ArtifactStore) Store(passTypeID, serialNumber string, blob []byte) error {
	path, err := s.artifactPath(passTypeID, serialNumber)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pkpass-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Load returns the latest artifact for a pass
func (s *ArtifactStore) Load(passTypeID, serialNumber string) ([]byte, error) {
	path, err := s.artifactPath(passTypeID, serialNumber)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, models.ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Exists checks whether an artifact is stored for a pass
func (s *ArtifactStore) Exists(passTypeID, serialNumber string) bool {
	path, err := s.artifactPath(passTypeID, serialNumber)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes the artifact for a pass
func (s *ArtifactStore) Delete(passTypeID, serialNumber string) bool {
	path, err := s.artifactPath(passTypeID, serialNumber)
	if err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// artifactPath builds the on-disk path, refusing identifiers that would
// escape the base directory.
func (s *ArtifactStore) artifactPath(passTypeID, serialNumber string) (string, error) {
	dir, err := sanitizeComponent(passTypeID)
	if err != nil {
		return "", err
	}
	file, err := sanitizeComponent(serialNumber)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.basePath, dir, file+".pkpass")

	// Security check: ensure path is within base path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, s.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("artifact path escapes storage root")
	}

	return absPath, nil
}

// sanitizeComponent rejects identifiers carrying path separators or
// traversal sequences rather than silently rewriting them: identifiers
// are protocol data, and a mangled one would address the wrong pass.
func sanitizeComponent(component string) (string, error) {
	component = strings.TrimSpace(component)
	if component == "" {
		return "", fmt.Errorf("identifier cannot be empty")
	}
	if strings.ContainsAny(component, "/\\") || strings.Contains(component, "..") {
		return "", fmt.Errorf("identifier %q contains path characters", component)
	}
	return component, nil
}
