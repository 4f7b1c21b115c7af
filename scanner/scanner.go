// Package scanner finds plugin archives in a directory tree.
package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the archive kinds a plugin can ship as.
var DefaultExtensions = []string{".jar"}

type FileInfo struct {
	Path string
	Size int64
}

type Scanner struct {
	rootDir    string
	extensions []string
	skipDirs   map[string]struct{}
}

// New returns a scanner for archives under rootDir with one of extensions,
// or DefaultExtensions when none are given.
func New(rootDir string, extensions ...string) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Scanner{
		rootDir:    rootDir,
		extensions: extensions,
		skipDirs:   make(map[string]struct{}),
	}
}

// Skip excludes dir and everything below it, typically the migration
// cache, whose archives are outputs rather than plugins.
func (s *Scanner) Skip(dir string) *Scanner {
	if abs, err := filepath.Abs(dir); err == nil {
		s.skipDirs[abs] = struct{}{}
	}
	return s
}

// Scan returns the matching archives in lexical path order. Hidden
// directories are not entered.
func (s *Scanner) Scan() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(s.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if s.skipped(path, info) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.isTargetFile(path) {
			files = append(files, FileInfo{
				Path: path,
				Size: info.Size(),
			})
		}
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, err
}

// Paths is Scan returning only the archive paths.
func (s *Scanner) Paths() ([]string, error) {
	files, err := s.Scan()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths, err
}

func (s *Scanner) skipped(path string, info os.FileInfo) bool {
	if path != s.rootDir && strings.HasPrefix(info.Name(), ".") {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	_, skip := s.skipDirs[abs]
	return skip
}

func (s *Scanner) isTargetFile(path string) bool {
	ext := filepath.Ext(path)
	for _, targetExt := range s.extensions {
		if strings.EqualFold(ext, targetExt) {
			return true
		}
	}
	return false
}
