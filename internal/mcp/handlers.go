// internal/mcp/handlers.go
package mcp

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/audit"
)

type projectParams struct {
	ProjectID string `json:"project_id"`
}

type navigateParams struct {
	ProjectID string `json:"project_id"`
	URL       string `json:"url"`
}

type operateParams struct {
	ProjectID   string `json:"project_id"`
	Instruction string `json:"instruction"`
}

type jobParams struct {
	JobID string `json:"job_id"`
}

type listJobsParams struct {
	Limit int `json:"limit"`
}

type noteParams struct {
	ProjectID string `json:"project_id"`
	Note      string `json:"note"`
}

// submitResult is the immediate answer to every job-creating method.
type submitResult struct {
	JobID  string            `json:"job_id"`
	Status schemas.JobStatus `json:"status"`
}

func (s *Server) submit(kind schemas.JobKind, projectID, input string) (interface{}, error) {
	id, err := s.jobs.Submit(kind, projectID, input)
	if err != nil {
		return nil, badParams("%v", err)
	}
	return submitResult{JobID: id, Status: schemas.JobPending}, nil
}

func (s *Server) handleCreateBrowser(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p projectParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.submit(schemas.JobCreate, p.ProjectID, "")
}

func (s *Server) handleNavigateBrowser(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p navigateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, badParams("url is required")
	}
	return s.submit(schemas.JobNavigate, p.ProjectID, p.URL)
}

func (s *Server) handleOperateBrowser(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p operateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Instruction == "" {
		return nil, badParams("instruction is required")
	}
	return s.submit(schemas.JobOperate, p.ProjectID, p.Instruction)
}

func (s *Server) handleCloseBrowser(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p projectParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.submit(schemas.JobClose, p.ProjectID, "")
}

func (s *Server) handleGetJobStatus(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	job, err := s.jobs.Status(p.JobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Server) handleListJobs(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p listJobsParams
	if len(raw) > 0 {
		if err := jsonAPI.Unmarshal(raw, &p); err != nil {
			return nil, badParams("invalid params: %v", err)
		}
	}
	return s.jobs.List(p.Limit), nil
}

func (s *Server) handleCancelJob(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.jobs.Cancel(p.JobID); err != nil {
		return nil, err
	}
	return map[string]string{"job_id": p.JobID, "status": "cancellation_requested"}, nil
}

func (s *Server) handleAddNote(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p noteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Note == "" {
		return nil, badParams("note is required")
	}
	note, err := s.notes.Add(p.ProjectID, p.Note)
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Server) handleListNotes(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p projectParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.notes.List(p.ProjectID)
}

func (s *Server) handleTakeScreenshot(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
	var p projectParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	pc, err := s.operator.Screenshot(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"url": pc.URL, "screenshot": pc.Screenshot}, nil
}

func (s *Server) auditHandler(kind audit.Kind) handler {
	return func(ctx context.Context, raw jsoniter.RawMessage) (interface{}, error) {
		var p projectParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		session, err := s.operator.Session(p.ProjectID)
		if err != nil {
			return nil, err
		}
		return audit.NewAuditor(session, s.logger).Run(ctx, kind)
	}
}
