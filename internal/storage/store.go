// Package storage lays out per-run state on disk: job logs, job workspaces,
// and collected artifacts with a checksum manifest.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Artifact is one manifest entry for a collected file.
type Artifact struct {
	Job    string `json:"job"`
	Source string `json:"source"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Store manages run directories under a single root:
//
//	<root>/runs/<runID>/<job>.log
//	<root>/runs/<runID>/workspace/<job>/
//	<root>/runs/<runID>/artifacts/<job>/<dest>
//	<root>/runs/<runID>/manifest.json
type Store struct {
	root string

	// Guards manifest read-modify-write cycles: jobs of one wave save
	// artifacts concurrently.
	manifestMu sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// RunDir returns the directory for a run, creating it if needed.
func (s *Store) RunDir(runID string) (string, error) {
	dir := filepath.Join(s.root, "runs", sanitize(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// JobLog creates the log file for a job of a run.
func (s *Store) JobLog(runID, job string) (*os.File, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, sanitize(job)+".log"))
}

// JobLogPath returns where the log for a job of a run lives.
func (s *Store) JobLogPath(runID, job string) string {
	return filepath.Join(s.root, "runs", sanitize(runID), sanitize(job)+".log")
}

// WorkspaceDir creates and returns a job's workspace directory.
func (s *Store) WorkspaceDir(runID, job string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	ws := filepath.Join(dir, "workspace", sanitize(job))
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return "", err
	}
	return ws, nil
}

// SaveArtifact copies src (a file or a directory tree) into the run's
// artifact area under dest and records every copied file in the manifest.
func (s *Store) SaveArtifact(runID, job, src, dest string) ([]Artifact, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		dest = filepath.Base(src)
	}
	base := filepath.Join(dir, "artifacts", sanitize(job), dest)

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("artifact source: %w", err)
	}

	var entries []Artifact
	add := func(from, to string) error {
		if err := copyFile(from, to); err != nil {
			return err
		}
		sum, err := HashFile(to)
		if err != nil {
			return err
		}
		fi, err := os.Stat(to)
		if err != nil {
			return err
		}
		entries = append(entries, Artifact{
			Job:    job,
			Source: from,
			Path:   to,
			Size:   fi.Size(),
			SHA256: sum,
		})
		return nil
	}

	if info.IsDir() {
		err = filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			return add(path, filepath.Join(base, rel))
		})
	} else {
		err = add(src, base)
	}
	if err != nil {
		return nil, err
	}

	if err := s.appendManifest(runID, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Manifest returns every artifact recorded for a run.
func (s *Store) Manifest(runID string) ([]Artifact, error) {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	return s.readManifest(runID)
}

// ClearJobArtifacts drops one job's entries from the manifest and removes its
// artifact directory. A retried job calls this so a failed attempt's
// artifacts do not survive into the next one.
func (s *Store) ClearJobArtifacts(runID, job string) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	entries, err := s.readManifest(runID)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.Job != job {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	if err := s.writeManifest(runID, kept); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, "runs", sanitize(runID), "artifacts", sanitize(job)))
}

func (s *Store) manifestPath(runID string) string {
	return filepath.Join(s.root, "runs", sanitize(runID), "manifest.json")
}

func (s *Store) readManifest(runID string) ([]Artifact, error) {
	data, err := os.ReadFile(s.manifestPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Artifact
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return entries, nil
}

// writeManifest replaces the manifest through a temp-file rename so a reader
// never sees a partial write.
func (s *Store) writeManifest(runID string, entries []Artifact) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	path := s.manifestPath(runID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) appendManifest(runID string, entries []Artifact) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	existing, err := s.readManifest(runID)
	if err != nil {
		return err
	}
	return s.writeManifest(runID, append(existing, entries...))
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sanitize keeps run and job names safe to use as path elements.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			clean = append(clean, r)
		} else {
			clean = append(clean, '_')
		}
	}
	if len(clean) == 0 {
		return "job"
	}
	return string(clean)
}
