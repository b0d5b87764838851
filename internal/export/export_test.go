package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeDataStore struct {
	project ProjectInfo
	tasks   []TaskInfo
	history []TransitionInfo
	err     error
}

func (f *fakeDataStore) GetProject(ctx context.Context, id string) (ProjectInfo, error) {
	if f.err != nil {
		return ProjectInfo{}, f.err
	}
	return f.project, nil
}

func (f *fakeDataStore) GetWorkspaceName(ctx context.Context, workspaceID string) (string, error) {
	return "Espacio Principal", nil
}

func (f *fakeDataStore) ListProjectTasks(ctx context.Context, projectID string) ([]TaskInfo, error) {
	return f.tasks, nil
}

func (f *fakeDataStore) ListProjectHistory(ctx context.Context, projectID string) ([]TransitionInfo, error) {
	return f.history, nil
}

func TestExportHTML(t *testing.T) {
	due := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	store := &fakeDataStore{
		project: ProjectInfo{
			ID:          "doc_1",
			Title:       "Lanzamiento beta",
			Content:     "Plan de lanzamiento de la beta pública",
			WorkspaceID: "ws_1",
		},
		tasks: []TaskInfo{
			{Title: "Definir alcance", Category: "Finalizado", Tags: []string{"plan"}},
			{Title: "Pruebas de carga", Category: "En Progreso", DueDate: &due, Tags: []string{"qa", "infra"}},
		},
		history: []TransitionInfo{
			{PreviousStatus: "Investigación", NewStatus: "En Progreso", ChangedBy: "Ana", ChangedAt: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		},
	}

	svc := NewService(store)
	result, err := svc.Export(context.Background(), Request{
		ProjectID:      "doc_1",
		Format:         FormatHTML,
		IncludeHistory: true,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if result.MimeType != "text/html; charset=utf-8" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	if result.Filename != "Lanzamiento-beta.html" {
		t.Errorf("unexpected filename %q", result.Filename)
	}

	html := string(result.Data)
	for _, want := range []string{
		"Lanzamiento beta",
		"Espacio Principal",
		"Definir alcance",
		"Pruebas de carga",
		"15/03/2024",
		"qa, infra",
		"Investigación",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestExportHTMLWithoutHistory(t *testing.T) {
	store := &fakeDataStore{
		project: ProjectInfo{ID: "doc_1", Title: "Proyecto", WorkspaceID: "ws_1"},
		history: []TransitionInfo{
			{PreviousStatus: "En Progreso", NewStatus: "Finalizado", ChangedBy: "Ana", ChangedAt: time.Now()},
		},
	}

	svc := NewService(store)
	result, err := svc.Export(context.Background(), Request{ProjectID: "doc_1", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.Contains(string(result.Data), "Historial") {
		t.Error("history appendix rendered without IncludeHistory")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(&fakeDataStore{project: ProjectInfo{ID: "doc_1", Title: "X", WorkspaceID: "ws_1"}})

	if _, err := svc.Export(context.Background(), Request{ProjectID: "doc_1", Format: "docx"}); err == nil {
		t.Error("expected error for unsupported format, got nil")
	}
}

func TestExportProjectLookupError(t *testing.T) {
	svc := NewService(&fakeDataStore{err: errors.New("not found")})

	if _, err := svc.Export(context.Background(), Request{ProjectID: "missing", Format: FormatHTML}); err == nil {
		t.Error("expected error when project lookup fails, got nil")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Lanzamiento beta", "Lanzamiento-beta"},
		{"informe: Q1 2024", "informe-Q1-2024"},
		{"", "informe"},
		{"ñandú", "nandu"},
		{"Investigación Ágil", "Investigacion-Agil"},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
