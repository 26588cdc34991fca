package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestName is the file name of the manifest inside an archive
const ManifestName = "manifest.json"

// Tool identifies archives written by this app
const Tool = "Sellventory-Companion"

// ManifestVersion is the manifest format written by Export
const ManifestVersion = 1

// TimeLayout is the UTC layout of Manifest.ExportedAt
const TimeLayout = "2006-01-02T15:04:05Z"

// Manifest represents the archive manifest.json structure
type Manifest struct {
	Tool       string `json:"tool" yaml:"tool"`
	Version    int    `json:"version" yaml:"version"`
	ExportedAt string `json:"exported_at" yaml:"exported_at"`
	DBFilename string `json:"db_filename" yaml:"db_filename"`
	ImagesDir  string `json:"images_dir" yaml:"images_dir"`
	Counts     Counts `json:"counts" yaml:"counts"`
}

// Counts are the export statistics recorded in the manifest
type Counts struct {
	Images     int   `json:"images" yaml:"images"`
	DBBytes    int64 `json:"db_bytes" yaml:"db_bytes"`
	ImageBytes int64 `json:"image_bytes" yaml:"image_bytes"`
}

// LoadManifest reads and validates the manifest in dir
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if manifest.Version == 0 {
		return nil, fmt.Errorf("manifest missing version")
	}

	return &manifest, nil
}
