// Package models manages Vosk model bundles: a catalog of downloadable
// models, installation into the user data directory, and unpacking of
// model assets bundled with an application.
package models

import (
	"os"
	"path/filepath"
)

// ModelInfo holds metadata for a downloadable Vosk model
type ModelInfo struct {
	ID        string // archive and directory name (e.g., "vosk-model-small-en-us-0.15")
	Name      string // display name
	Language  string // language tag (e.g., "en-us")
	Size      string // human readable size
	SizeBytes int64  // size in bytes for progress tracking
}

// small models are the ones suited for live microphone recognition
var models = []ModelInfo{
	{ID: "vosk-model-small-en-us-0.15", Name: "Small English (US)", Language: "en-us", Size: "40MB", SizeBytes: 40_000_000},
	{ID: "vosk-model-en-us-0.22-lgraph", Name: "English (US) Dynamic Graph", Language: "en-us", Size: "128MB", SizeBytes: 128_000_000},
	{ID: "vosk-model-small-cn-0.22", Name: "Small Chinese", Language: "cn", Size: "42MB", SizeBytes: 42_000_000},
	{ID: "vosk-model-small-ru-0.22", Name: "Small Russian", Language: "ru", Size: "45MB", SizeBytes: 45_000_000},
	{ID: "vosk-model-small-fr-0.22", Name: "Small French", Language: "fr", Size: "41MB", SizeBytes: 41_000_000},
	{ID: "vosk-model-small-de-0.15", Name: "Small German", Language: "de", Size: "45MB", SizeBytes: 45_000_000},
	{ID: "vosk-model-small-es-0.42", Name: "Small Spanish", Language: "es", Size: "39MB", SizeBytes: 39_000_000},
	{ID: "vosk-model-small-it-0.22", Name: "Small Italian", Language: "it", Size: "48MB", SizeBytes: 48_000_000},
	{ID: "vosk-model-small-pt-0.3", Name: "Small Portuguese", Language: "pt", Size: "31MB", SizeBytes: 31_000_000},
	{ID: "vosk-model-small-ja-0.22", Name: "Small Japanese", Language: "ja", Size: "48MB", SizeBytes: 48_000_000},
}

// modelByID maps model ID to ModelInfo for quick lookup
var modelByID = func() map[string]ModelInfo {
	m := make(map[string]ModelInfo, len(models))
	for _, model := range models {
		m[model.ID] = model
	}
	return m
}()

// base URL for downloading models; replaced in tests
var baseDownloadURL = "https://alphacephei.com/vosk/models"

// GetModelsDir returns the directory where models are installed.
func GetModelsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "voskbind", "models"), nil
}

// GetModelPath returns the install directory of a model.
// Returns empty string if model ID is unknown.
func GetModelPath(modelID string) string {
	if _, ok := modelByID[modelID]; !ok {
		return ""
	}
	dir, err := GetModelsDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, modelID)
}

// GetDownloadURL returns the archive URL for a model.
// Returns empty string if model ID is unknown.
func GetDownloadURL(modelID string) string {
	if _, ok := modelByID[modelID]; !ok {
		return ""
	}
	return baseDownloadURL + "/" + modelID + ".zip"
}

// GetModel returns info for a model by ID, or nil if unknown.
func GetModel(modelID string) *ModelInfo {
	info, ok := modelByID[modelID]
	if !ok {
		return nil
	}
	return &info
}

// ListModels returns every catalog entry
func ListModels() []ModelInfo {
	result := make([]ModelInfo, len(models))
	copy(result, models)
	return result
}

// ListByLanguage returns catalog entries for a language tag
func ListByLanguage(lang string) []ModelInfo {
	var result []ModelInfo
	for _, m := range models {
		if m.Language == lang {
			result = append(result, m)
		}
	}
	return result
}
