package phototag

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ImageRecord is the lightweight metadata for one image found by ScanFolder.
type ImageRecord struct {
	Id          string   `json:"id"`
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

var imageExtensions = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff", "tif", "svg"}

// ScanFolder lists the image files directly inside folderPath, sorted by
// case-insensitive name. Subdirectories are not descended into.
//
// Record ids are assigned from the raw directory enumeration order before
// sorting, so they do not follow the returned order and may change between
// scans.
func ScanFolder(folderPath string) ([]ImageRecord, error) {
	info, err := os.Stat(folderPath)
	if err != nil {
		return nil, ErrNotFound
	}
	if !info.IsDir() {
		return nil, ErrNotADirectory
	}

	// os.ReadDir sorts by name, which would lose the enumeration order ids
	// are derived from.
	dir, err := os.Open(folderPath)
	if err != nil {
		return nil, &IOError{Op: "read directory", Err: err}
	}
	defer dir.Close()
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, &IOError{Op: "read directory", Err: err}
	}

	images := []ImageRecord{}
	for index, entry := range entries {
		name := entry.Name()
		path := filepath.Join(folderPath, name)

		// Stat rather than entry.Type() so symlinks to images are followed.
		// Entries that can't be stat'd are skipped.
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}

		ext, ok := extension(name)
		if !ok || !slices.Contains(imageExtensions, strings.ToLower(ext)) {
			continue
		}

		images = append(images, ImageRecord{
			Id:   fmt.Sprintf("img_%d", index),
			Path: path,
			Name: name,
			Tags: []string{},
		})
	}

	slices.SortStableFunc(images, func(a, b ImageRecord) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return images, nil
}

// extension returns the text after the final dot of name. A leading dot does
// not start an extension, so ".png" has none.
func extension(name string) (string, bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return "", false
	}
	return name[i+1:], true
}
