package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/emmett/zahl/internal/models"
)

// ModelManager prints and maintains the local model catalog
type ModelManager struct {
	store *models.Store
	out   io.Writer
}

// NewModelManager creates a ModelManager over store
func NewModelManager(store *models.Store, out io.Writer) *ModelManager {
	return &ModelManager{store: store, out: out}
}

// ListModels prints the catalog with download status
func (m *ModelManager) ListModels() error {
	defaultModel, err := m.store.GetDefaultModel()
	if err != nil {
		return fmt.Errorf("failed to read default model: %w", err)
	}

	fmt.Fprintln(m.out, "Available models for download:")
	fmt.Fprintln(m.out)
	for i, model := range models.AvailableModels {
		marker := ""
		if model.Name == defaultModel {
			marker = " [DEFAULT]"
		}
		fmt.Fprintf(m.out, "%d. %s%s\n", i+1, model.Name, marker)
		fmt.Fprintf(m.out, "   Language: %s\n", model.Language)
		fmt.Fprintf(m.out, "   Size:     %s\n", model.Size)
		fmt.Fprintf(m.out, "   Info:     %s\n", model.Description)

		downloaded, err := m.store.IsDownloaded(model.Name)
		if err != nil {
			return fmt.Errorf("failed to check model %s: %w", model.Name, err)
		}
		if downloaded {
			fmt.Fprintf(m.out, "   Status:   downloaded\n")
		} else {
			fmt.Fprintf(m.out, "   Status:   not downloaded\n")
		}
		fmt.Fprintln(m.out)
	}
	fmt.Fprintln(m.out, "To download a model, use:")
	fmt.Fprintln(m.out, "  zahl --download-model <model-name>")
	return nil
}

// ListDownloaded prints the extracted models
func (m *ModelManager) ListDownloaded() error {
	downloaded, err := m.store.ListDownloaded()
	if err != nil {
		return fmt.Errorf("error listing models: %w", err)
	}
	if len(downloaded) == 0 {
		fmt.Fprintln(m.out, "No models downloaded yet. The default model is fetched on first use.")
		return nil
	}

	defaultModel, _ := m.store.GetDefaultModel()
	fmt.Fprintf(m.out, "Downloaded models (%d):\n\n", len(downloaded))
	for i, name := range downloaded {
		marker := ""
		if name == defaultModel {
			marker = " [DEFAULT]"
		}
		fmt.Fprintf(m.out, "%d. %s%s\n", i+1, name, marker)
		fmt.Fprintf(m.out, "   Path: %s\n", m.store.Path(name))
	}
	return nil
}

// Download fetches a catalog model unless it is already present
func (m *ModelManager) Download(ctx context.Context, name string) error {
	model := models.FindModel(name)
	if model == nil {
		return fmt.Errorf("%w: %s (use --list-models)", models.ErrUnknownModel, name)
	}

	downloaded, err := m.store.IsDownloaded(name)
	if err != nil {
		return fmt.Errorf("error checking model: %w", err)
	}
	if downloaded {
		fmt.Fprintf(m.out, "Model '%s' is already downloaded.\nLocation: %s\n", name, m.store.Path(name))
		return nil
	}

	fmt.Fprintf(m.out, "Downloading model: %s (%s)\n", model.Name, model.Size)
	err = m.store.Download(ctx, name, func(p models.Progress) {
		if p.Total > 0 {
			fmt.Fprintf(m.out, "\rProgress: %.1f%% (%d/%d bytes)", float64(p.Downloaded)/float64(p.Total)*100, p.Downloaded, p.Total)
		} else {
			fmt.Fprintf(m.out, "\rProgress: %d bytes", p.Downloaded)
		}
	})
	fmt.Fprintln(m.out)
	if err != nil {
		return fmt.Errorf("error downloading model: %w", err)
	}
	fmt.Fprintf(m.out, "Model '%s' downloaded successfully.\n", name)
	return nil
}

// SetDefault records name as the default model
func (m *ModelManager) SetDefault(name string) error {
	if err := m.store.SetDefaultModel(name); err != nil {
		if errors.Is(err, models.ErrUnknownModel) {
			return fmt.Errorf("%w (use --list-models)", err)
		}
		return err
	}
	fmt.Fprintf(m.out, "Default model set to: %s\n", name)

	downloaded, _ := m.store.IsDownloaded(name)
	if !downloaded {
		fmt.Fprintf(m.out, "It is fetched on first use, or run 'zahl --download-model %s' now.\n", name)
	}
	return nil
}
