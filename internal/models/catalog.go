package models

// Model describes a downloadable Vosk model
type Model struct {
	Name        string
	Language    string
	Size        string
	Bytes       int64 // approximate archive size, used when the server omits Content-Length
	URL         string
	Description string
}

// AvailableModels lists the German Vosk models
var AvailableModels = []Model{
	{
		Name:        "vosk-model-small-de-0.15",
		Language:    "de",
		Size:        "45M",
		Bytes:       45 * 1024 * 1024,
		URL:         "https://alphacephei.com/vosk/models/vosk-model-small-de-0.15.zip",
		Description: "Lightweight German model, fast and good enough for single numbers",
	},
	{
		Name:        "vosk-model-small-de-zamia-0.3",
		Language:    "de",
		Size:        "49M",
		Bytes:       49 * 1024 * 1024,
		URL:         "https://alphacephei.com/vosk/models/vosk-model-small-de-zamia-0.3.zip",
		Description: "Small German model trained on the Zamia corpus",
	},
	{
		Name:        "vosk-model-de-0.21",
		Language:    "de",
		Size:        "1.9G",
		Bytes:       1900 * 1024 * 1024,
		URL:         "https://alphacephei.com/vosk/models/vosk-model-de-0.21.zip",
		Description: "Large German model, slower to load but more accurate",
	},
}

// DefaultModelName is the model used when nothing else is configured
const DefaultModelName = "vosk-model-small-de-0.15"

// FindModel finds a model by name in the catalog
func FindModel(name string) *Model {
	for _, model := range AvailableModels {
		if model.Name == name {
			return &model
		}
	}
	return nil
}
