package models

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnknownModel is returned for names missing from the catalog
var ErrUnknownModel = errors.New("unknown model")

const defaultModelFile = ".default_model"

// Progress reports bytes received for one download
type Progress struct {
	Downloaded int64
	Total      int64 // 0 when neither the server nor the catalog knows the size
}

// Store manages model directories on disk
type Store struct {
	dir    string
	client *http.Client
}

// NewStore creates a store rooted at dir. A nil client uses http.DefaultClient.
func NewStore(dir string, client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{dir: dir, client: client}
}

// GetModelsDir returns the default directory where models are stored
func GetModelsDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(cwd, "models"), nil
}

// Dir returns the store root
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the directory a model is extracted to
func (s *Store) Path(modelName string) string {
	return filepath.Join(s.dir, modelName)
}

// GetDefaultModel returns the configured default model name.
// If no custom default is set, returns DefaultModelName.
func (s *Store) GetDefaultModel() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, defaultModelFile))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultModelName, nil
		}
		return DefaultModelName, err
	}

	modelName := strings.TrimSpace(string(data))
	if modelName == "" {
		return DefaultModelName, nil
	}
	return modelName, nil
}

// SetDefaultModel records the default model
func (s *Store) SetDefaultModel(modelName string) error {
	if FindModel(modelName) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, defaultModelFile), []byte(modelName), 0o644); err != nil {
		return fmt.Errorf("failed to save default model: %w", err)
	}
	return nil
}

// IsDownloaded checks if a model is already extracted
func (s *Store) IsDownloaded(modelName string) (bool, error) {
	info, err := os.Stat(s.Path(modelName))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// ListDownloaded lists all extracted models
func (s *Store) ListDownloaded() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "vosk-model-") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Download fetches and extracts a catalog model. Partial files are removed
// on failure, so a later call starts from scratch.
func (s *Store) Download(ctx context.Context, modelName string, progress func(Progress)) error {
	model := FindModel(modelName)
	if model == nil {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	return s.DownloadFrom(ctx, *model, progress)
}

// DownloadFrom fetches and extracts model from its URL
func (s *Store) DownloadFrom(ctx context.Context, model Model, progress func(Progress)) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	zipPath := filepath.Join(s.dir, model.Name+".zip.part")
	defer os.Remove(zipPath)

	if err := s.fetch(ctx, model, zipPath, progress); err != nil {
		return err
	}

	staging := filepath.Join(s.dir, "."+model.Name+".extracting")
	_ = os.RemoveAll(staging)
	defer os.RemoveAll(staging)

	if err := extractZip(zipPath, staging); err != nil {
		return fmt.Errorf("failed to extract model: %w", err)
	}

	// archives usually wrap the model in a directory of the same name
	src := staging
	if info, err := os.Stat(filepath.Join(staging, model.Name)); err == nil && info.IsDir() {
		src = filepath.Join(staging, model.Name)
	}

	dest := s.Path(model.Name)
	_ = os.RemoveAll(dest)
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("failed to install model: %w", err)
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, model Model, dest string, progress func(Progress)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	total := resp.ContentLength
	if total <= 0 {
		total = model.Bytes
	}

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write file: %w", writeErr)
			}
			downloaded += int64(n)
			if progress != nil {
				progress(Progress{Downloaded: downloaded, Total: total})
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("download error: %w", err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// extractZip extracts a zip file to the specified directory
func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(destDir) + string(os.PathSeparator)

	for _, f := range r.File {
		fpath := filepath.Join(destDir, f.Name)

		// ZipSlip
		if !strings.HasPrefix(fpath, root) {
			return fmt.Errorf("illegal file path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, fpath string) error {
	outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()|0o600)
	if err != nil {
		return err
	}
	defer outFile.Close()

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.Copy(outFile, rc); err != nil {
		return err
	}
	return outFile.Close()
}
