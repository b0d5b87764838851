package export

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetProject(ctx context.Context, id string) (ProjectInfo, error)
	GetWorkspaceName(ctx context.Context, workspaceID string) (string, error)
	ListProjectTasks(ctx context.Context, projectID string) ([]TaskInfo, error)
	ListProjectHistory(ctx context.Context, projectID string) ([]TransitionInfo, error)
}

// ProjectInfo holds project metadata
type ProjectInfo struct {
	ID          string
	Title       string
	Content     string
	WorkspaceID string
}

// TaskInfo holds one task row
type TaskInfo struct {
	Title    string
	Category string
	DueDate  *time.Time
	Tags     []string
}

// TransitionInfo holds one status transition
type TransitionInfo struct {
	PreviousStatus string
	NewStatus      string
	ChangedBy      string
	ChangedAt      time.Time
	Details        string
}

// Service renders project reports
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a project report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	workspaceName, err := s.store.GetWorkspaceName(ctx, project.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}

	tasks, err := s.store.ListProjectTasks(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	data := TemplateData{
		Title:         project.Title,
		Content:       project.Content,
		WorkspaceName: workspaceName,
		GeneratedAt:   time.Now(),
	}

	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Format("02/01/2006")
		}
		data.Tasks = append(data.Tasks, TemplateTask{
			Title:    t.Title,
			Category: t.Category,
			DueDate:  due,
			Tags:     strings.Join(t.Tags, ", "),
		})
	}

	if req.IncludeHistory {
		history, err := s.store.ListProjectHistory(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		for _, h := range history {
			data.History = append(data.History, TemplateTransition{
				When:           h.ChangedAt.Format("02/01/2006 15:04"),
				PreviousStatus: h.PreviousStatus,
				NewStatus:      h.NewStatus,
				ChangedBy:      h.ChangedBy,
				Details:        h.Details,
			})
		}
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return renderPDF(html, project.Title)
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(project.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
