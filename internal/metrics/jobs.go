package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrJobExists   = errors.New("job already exists")
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("job name and at least one target are required")
)

// Job is one scrape job as accepted by the admin API.
type Job struct {
	Job     string   `json:"job" validate:"required"`
	Targets []string `json:"targets" validate:"required,min=1,dive,required"`
}

// targetGroup is one entry of a Prometheus file_sd JSON file.
type targetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// JobStore edits the file_sd target list Prometheus watches.
type JobStore struct {
	mu   sync.Mutex
	path string
}

func NewJobStore(path string) *JobStore {
	return &JobStore{path: path}
}

// List returns the configured jobs. A missing file means no jobs.
func (s *JobStore) List() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := s.read()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(groups))
	for _, g := range groups {
		jobs = append(jobs, Job{Job: g.Labels["job"], Targets: g.Targets})
	}
	return jobs, nil
}

func (s *JobStore) Add(job Job) error {
	job.Job = strings.TrimSpace(job.Job)
	if job.Job == "" || len(job.Targets) == 0 {
		return ErrInvalidJob
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := s.read()
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.Labels["job"] == job.Job {
			return ErrJobExists
		}
	}
	groups = append(groups, targetGroup{Targets: job.Targets, Labels: map[string]string{"job": job.Job}})
	return s.write(groups)
}

func (s *JobStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := s.read()
	if err != nil {
		return err
	}
	kept := groups[:0]
	for _, g := range groups {
		if g.Labels["job"] != name {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(groups) {
		return ErrJobNotFound
	}
	return s.write(kept)
}

func (s *JobStore) read() ([]targetGroup, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []targetGroup{}, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []targetGroup{}, nil
	}
	var groups []targetGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("decode jobs file: %w", err)
	}
	return groups, nil
}

// write replaces the file atomically so Prometheus never sees a partial list.
func (s *JobStore) write(groups []targetGroup) error {
	if groups == nil {
		groups = []targetGroup{}
	}
	raw, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".jobs-*.json")
	if err != nil {
		return fmt.Errorf("create temp jobs file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write jobs file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
