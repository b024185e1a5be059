package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState keeps a single job in a YAML file. It suits cron and Airflow
// callers that cannot keep a SQLite database around.
type FileState struct {
	path string
	mu   sync.RWMutex
	data *fileStateData
}

// fileStateData is the YAML layout of the state file.
type fileStateData struct {
	JobID       string      `yaml:"job_id"`
	Status      string      `yaml:"status"`
	ConfigHash  string      `yaml:"config_hash,omitempty"`
	StartedAt   time.Time   `yaml:"started_at"`
	UpdatedAt   time.Time   `yaml:"updated_at"`
	CompletedAt *time.Time  `yaml:"completed_at,omitempty"`
	Invocations int         `yaml:"invocations"`
	RowsScanned int64       `yaml:"rows_scanned"`
	RowsChanged int64       `yaml:"rows_changed"`
	Error       string      `yaml:"error,omitempty"`
	Checkpoint  *Checkpoint `yaml:"checkpoint,omitempty"`
}

// NewFileState opens the state file at path, loading it when it exists.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var st fileStateData
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if st.Checkpoint != nil {
		if err := st.Checkpoint.Validate(); err != nil {
			return nil, fmt.Errorf("state file %s: %w", path, err)
		}
	}
	fs.data = &st
	return fs, nil
}

// write replaces the state file atomically.
func (fs *FileState) write() error {
	out, err := yaml.Marshal(fs.data)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// Active returns the stored job if it is still running.
func (fs *FileState) Active(_ context.Context) (*Job, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.data == nil || fs.data.Status != StatusRunning {
		return nil, ErrNotFound
	}
	return fs.data.job(), nil
}

// Load returns the stored job if its id matches.
func (fs *FileState) Load(_ context.Context, id string) (*Job, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.data == nil || fs.data.JobID != id {
		return nil, ErrNotFound
	}
	return fs.data.job(), nil
}

// Save replaces the stored job. The file only ever holds one job.
func (fs *FileState) Save(_ context.Context, job *Job) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data = &fileStateData{
		JobID:       job.ID,
		Status:      job.Status,
		ConfigHash:  job.ConfigHash,
		StartedAt:   job.StartedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
		Invocations: job.Invocations,
		RowsScanned: job.RowsScanned,
		RowsChanged: job.RowsChanged,
		Error:       job.Error,
		Checkpoint:  job.Checkpoint,
	}
	return fs.write()
}

// Delete removes the state file if it holds job id.
func (fs *FileState) Delete(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.data == nil || fs.data.JobID != id {
		return ErrNotFound
	}
	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	fs.data = nil
	return nil
}

// Close is a no-op; every Save is already on disk.
func (fs *FileState) Close() error {
	return nil
}

func (d *fileStateData) job() *Job {
	return &Job{
		ID:          d.JobID,
		Status:      d.Status,
		ConfigHash:  d.ConfigHash,
		Checkpoint:  d.Checkpoint,
		StartedAt:   d.StartedAt,
		UpdatedAt:   d.UpdatedAt,
		CompletedAt: d.CompletedAt,
		Invocations: d.Invocations,
		RowsScanned: d.RowsScanned,
		RowsChanged: d.RowsChanged,
		Error:       d.Error,
	}
}
