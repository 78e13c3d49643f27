// Package library enumerates audio files on disk and watches library
// directories for new arrivals.
package library

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cueprep/cueprep/internal/constants"
)

var audioExts = map[string]struct{}{
	constants.ExtMP3:  {},
	constants.ExtFLAC: {},
	constants.ExtWAV:  {},
	constants.ExtM4A:  {},
	constants.ExtOGG:  {},
	constants.ExtAIFF: {},
}

// IsAudioFile reports whether path carries a supported audio extension.
func IsAudioFile(path string) bool {
	_, ok := audioExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Enumerate walks dirs and returns audio file paths in sorted order.
// maxFiles caps the result after sorting; 0 returns nothing, negative means
// no cap. A directory that cannot be walked fails the whole enumeration.
func Enumerate(dirs []string, maxFiles int) ([]string, error) {
	if maxFiles == 0 || len(dirs) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !IsAudioFile(path) {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}

	sort.Strings(files)
	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}
	return files, nil
}
