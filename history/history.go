package history

// This file contains the build history store: one directory per orchestrated
// build holding build.json, console.log and captured test output.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cbtgo/cbtgo/model"
	"github.com/rs/zerolog"
)

const (
	DirName       = ".cbtgo"
	BuildFileName = "build.json"
)

type Entry struct {
	Build    model.Build
	FullPath string
}

// Root returns the history directory for a workspace.
func Root(workspace string) string {
	return filepath.Join(workspace, DirName)
}

// Store persists a single build record. Every mutation is written through to
// build.json so a crashed build still leaves its records behind.
type Store struct {
	mu    sync.Mutex
	dir   string
	build *model.Build
}

// Create makes the build directory below root and writes the initial record.
func Create(root string, build *model.Build) (*Store, error) {
	timestamp := build.Timestamp.Format("20060102-150405")
	shortID := build.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	dir := filepath.Join(root, "builds", fmt.Sprintf("%s-%s", timestamp, shortID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	s := &Store{dir: dir, build: build}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the build directory.
func (s *Store) Dir() string {
	return s.dir
}

// Build returns the live build record.
func (s *Store) Build() *model.Build {
	return s.build
}

// AppendAction attaches a record to the build and persists it.
func (s *Store) AppendAction(rec *model.ExecutionRecord) error {
	s.mu.Lock()
	s.build.Actions = append(s.build.Actions, rec)
	s.mu.Unlock()
	return s.Save()
}

// Actions returns the build's records of the given kind in dispatch order.
func (s *Store) Actions(kind model.TestKind) []*model.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ExecutionRecord
	for _, rec := range s.build.Actions {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// WriteFile stores an artifact next to build.json and returns its name
// relative to the build directory.
func (s *Store) WriteFile(name string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return name, nil
}

// Save writes build.json. API keys in recorded environments are masked.
func (s *Store) Save() error {
	s.mu.Lock()
	redacted := *s.build
	redacted.Actions = make([]*model.ExecutionRecord, 0, len(s.build.Actions))
	for _, rec := range s.build.Actions {
		cp := *rec
		cp.Environment = rec.Environment.Redacted()
		redacted.Actions = append(redacted.Actions, &cp)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal build: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, BuildFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write build record: %w", err)
	}
	return nil
}

// LoadEntries loads all build records below root.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, fmt.Errorf("no builds found in %s", root)
	}

	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			buildPath := filepath.Join(path, BuildFileName)
			if _, err := os.Stat(buildPath); err == nil {
				build, err := parseBuildJSON(buildPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", buildPath).Msg("Failed to parse build.json")
					return nil
				}

				entries = append(entries, Entry{
					Build:    build,
					FullPath: path,
				})
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk %s directory: %w", DirName, err)
	}

	return entries, nil
}

// parseBuildJSON parses a build.json file.
func parseBuildJSON(path string) (model.Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Build{}, err
	}

	var build model.Build
	if err := json.Unmarshal(data, &build); err != nil {
		return model.Build{}, err
	}

	return build, nil
}
