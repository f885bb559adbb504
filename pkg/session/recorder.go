package session

import (
	"errors"

	"github.com/jmylchreest/insight/pkg/analysis"
)

// Recorder persists job outcomes into the dashboard context and the
// session history. The dashboard context is only ever written for a job
// that completed.
type Recorder struct {
	Contexts *ContextStore
	History  *History
	// Base seeds the dashboard context when none exists for the job yet.
	// It applies to any job when its JobID is empty. Fields it leaves unset
	// are filled from the job's history session.
	Base Context
}

// RecordCompleted saves the resolved context with its final result and
// marks the job's session completed.
func (r *Recorder) RecordCompleted(jobID string, res *analysis.NormalizedResult) error {
	var errs []error
	if r.Contexts != nil {
		c, err := r.Contexts.Load()
		if err != nil {
			errs = append(errs, err)
		}
		if c == nil || c.JobID != jobID {
			base := r.base(jobID)
			c = &base
		}
		c.Result = res
		errs = append(errs, r.Contexts.Save(c))
	}
	errs = append(errs, r.updateSession(jobID, StatusCompleted, 100))
	return errors.Join(errs...)
}

// RecordFailed marks the job's session failed. The dashboard context is
// left alone.
func (r *Recorder) RecordFailed(jobID, _ string) error {
	return r.updateSession(jobID, StatusFailed, -1)
}

func (r *Recorder) base(jobID string) Context {
	var c Context
	if r.Base.JobID == "" || r.Base.JobID == jobID {
		c = r.Base
	}
	c.JobID = jobID
	if c.Source != "" || r.History == nil {
		return c
	}
	if s, err := r.History.ByJobID(jobID); err == nil {
		c.Source = s.Metadata.Source
		c.UploadDir = s.Metadata.UploadDir
		c.GitHubRepo = s.Metadata.GitHubRepo
		c.Branch = s.Metadata.Branch
	}
	return c
}

func (r *Recorder) updateSession(jobID string, status Status, progress float64) error {
	if r.History == nil {
		return nil
	}
	s, err := r.History.ByJobID(jobID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.History.Update(s.Slug, func(s *Session) {
		s.Status = status
		if progress >= 0 {
			s.Progress = progress
		}
	})
}
