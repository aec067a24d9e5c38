package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IndexableExtensions are the extensions picked up when listing a folder
var IndexableExtensions = []string{"jpg", "jpeg", "png"}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the lowercased file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an indexable image extension
func IsImageFile(filename string) bool {
	ext := GetFileExtension(filename)
	for _, imgExt := range IndexableExtensions {
		if ext == imgExt {
			return true
		}
	}
	return false
}

// AnnotatedFilename returns the path of the annotated copy of filename in
// outputDir. A non-empty format replaces the extension.
func AnnotatedFilename(outputDir, prefix, filename, format string) string {
	name := filepath.Base(filename)
	if format != "" && !strings.EqualFold(GetFileExtension(name), format) {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + strings.ToLower(format)
	}
	return filepath.Join(outputDir, prefix+name)
}

// ListImageFiles lists the image files directly inside dir, without
// descending into subdirectories. Names come back in os.ReadDir order.
func ListImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// SafeName reports whether name is a bare filename with no path elements
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
