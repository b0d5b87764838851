package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"semilla/api/internal/store"
	"semilla/api/internal/util"
)

func floatPtr(v float64) *float64 { return &v }

func TestNormalizePriority(t *testing.T) {
	cases := []struct {
		name  string
		score *float64
		want  int
	}{
		{"missing defaults to middle", nil, 5},
		{"zero clamps to floor", floatPtr(0), 1},
		{"negative clamps to floor", floatPtr(-12), 1},
		{"ten rounds up to one", floatPtr(10), 1},
		{"eleven rounds up to two", floatPtr(11), 2},
		{"eighty five rounds up to nine", floatPtr(85), 9},
		{"hundred maps to ceiling", floatPtr(100), 10},
		{"overflow clamps to ceiling", floatPtr(250), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizePriority(tc.score); got != tc.want {
				t.Fatalf("NormalizePriority(%v) = %d, want %d", tc.score, got, tc.want)
			}
		})
	}
}

func TestIngestIdea(t *testing.T) {
	fs := &fakeStore{}
	fs.getWorkspaceFn = func(ctx context.Context, id string) (store.Workspace, error) {
		if id == "ws-1" {
			return store.Workspace{ID: "ws-1"}, nil
		}
		return store.Workspace{}, sql.ErrNoRows
	}

	svc := newTestService(fs)

	t.Run("normalizes priority and effort", func(t *testing.T) {
		idea, err := svc.IngestIdea(context.Background(), IngestIdeaInput{
			Title:           "  Detector de tendencias  ",
			Description:     "Analizar fuentes RSS",
			PriorityScore:   floatPtr(85),
			EstimatedEffort: 9,
			WorkspaceID:     "ws-1",
		})
		if err != nil {
			t.Fatalf("IngestIdea: %v", err)
		}
		if idea.Title != "Detector de tendencias" {
			t.Fatalf("title not trimmed: %q", idea.Title)
		}
		if idea.PriorityScore != 9 {
			t.Fatalf("expected priority 9, got %d", idea.PriorityScore)
		}
		if idea.EstimatedEffort != 3 {
			t.Fatalf("out-of-range effort should default to 3, got %d", idea.EstimatedEffort)
		}
		if idea.Status != store.IdeaStatusEvaluating {
			t.Fatalf("expected status evaluating, got %q", idea.Status)
		}
		if idea.CreatedByType != "agent" {
			t.Fatalf("expected created_by_type agent, got %q", idea.CreatedByType)
		}
		activity := fs.lastActivity()
		if activity == nil || activity.ActionType != "idea_ingested" {
			t.Fatalf("expected idea_ingested activity, got %+v", activity)
		}
	})

	t.Run("rejects missing workspace id", func(t *testing.T) {
		_, err := svc.IngestIdea(context.Background(), IngestIdeaInput{Title: "Sin espacio"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
		if !strings.Contains(domainErr.Message, "workspace_id") {
			t.Fatalf("error should name the missing field: %q", domainErr.Message)
		}
	})

	t.Run("rejects unknown workspace", func(t *testing.T) {
		_, err := svc.IngestIdea(context.Background(), IngestIdeaInput{Title: "Perdida", WorkspaceID: "ws-nope"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 404 {
			t.Fatalf("expected 404, got %v", err)
		}
	})

	t.Run("rejects empty title", func(t *testing.T) {
		_, err := svc.IngestIdea(context.Background(), IngestIdeaInput{Title: "   "})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
	})
}

func TestPromoteIdea(t *testing.T) {
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	baseIdea := store.Idea{
		ID:            "idea-1",
		IdeaNumber:    7,
		Title:         "Portal de métricas",
		Description:   "Dashboard interno",
		PriorityScore: 8,
		ProgressPct:   20,
		Status:        store.IdeaStatusPrioritized,
		SourceURL:     "https://example.com/fuente",
		CreatedByType: "agent",
		WorkspaceID:   "ws-1",
		DueDate:       &due,
	}

	t.Run("creates project and ledger entry", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return baseIdea, nil
		}
		svc := newTestService(fs)

		doc, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-1", UserID: "usr-1"})
		if err != nil {
			t.Fatalf("PromoteIdea: %v", err)
		}
		if doc.Category != store.CategoryInProgress {
			t.Fatalf("expected category %q, got %q", store.CategoryInProgress, doc.Category)
		}
		if doc.Type != "project" {
			t.Fatalf("expected type project, got %q", doc.Type)
		}
		if doc.Metadata["idea_id"] != "idea-1" || doc.Metadata["source_url"] != "https://example.com/fuente" {
			t.Fatalf("unexpected metadata: %+v", doc.Metadata)
		}
		if doc.DueDate == nil || !doc.DueDate.Equal(due) {
			t.Fatalf("due date not carried over: %+v", doc.DueDate)
		}

		entry := fs.lastHistory()
		if entry == nil {
			t.Fatal("expected a history entry")
		}
		if entry.PreviousStatus != store.IdeaStatusPrioritized || entry.NewStatus != store.IdeaStatusExecuted {
			t.Fatalf("unexpected transition: %s → %s", entry.PreviousStatus, entry.NewStatus)
		}
		if entry.ChangedBy != "usr-1" {
			t.Fatalf("expected changed_by usr-1, got %q", entry.ChangedBy)
		}
		if !strings.HasPrefix(entry.Details, "Idea promovida a proyecto ") {
			t.Fatalf("unexpected details: %q", entry.Details)
		}

		activity := fs.lastActivity()
		if activity == nil || activity.ActionType != "promote_idea" {
			t.Fatalf("expected promote_idea activity, got %+v", activity)
		}
	})

	t.Run("conflict on already executed idea", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return baseIdea, nil
		}
		fs.promoteIdeaFn = func(ctx context.Context, doc store.Document, entry store.HistoryEntry, ideaID string) error {
			return store.ErrIdeaAlreadyExecuted
		}
		svc := newTestService(fs)

		_, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-1", UserID: "usr-1"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 409 {
			t.Fatalf("expected 409, got %v", err)
		}
	})

	t.Run("workspace mismatch is forbidden", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return baseIdea, nil
		}
		svc := newTestService(fs)

		_, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-1", WorkspaceID: "ws-2", UserID: "usr-1"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 403 {
			t.Fatalf("expected 403, got %v", err)
		}
	})

	t.Run("unknown idea is not found", func(t *testing.T) {
		fs := &fakeStore{}
		svc := newTestService(fs)

		_, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-nope", UserID: "usr-1"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 404 {
			t.Fatalf("expected 404, got %v", err)
		}
	})

	t.Run("identity falls back when no user given", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return baseIdea, nil
		}
		fs.firstUserIDFn = func(ctx context.Context) (string, error) {
			return "usr-oldest", nil
		}
		svc := newTestService(fs)

		if _, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-1"}); err != nil {
			t.Fatalf("PromoteIdea: %v", err)
		}
		if entry := fs.lastHistory(); entry == nil || entry.ChangedBy != "usr-oldest" {
			t.Fatalf("expected fallback to oldest user, got %+v", entry)
		}
	})

	t.Run("identity falls back to nil sentinel", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return baseIdea, nil
		}
		svc := newTestService(fs)

		if _, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-1"}); err != nil {
			t.Fatalf("PromoteIdea: %v", err)
		}
		if entry := fs.lastHistory(); entry == nil || entry.ChangedBy != util.NilUserID {
			t.Fatalf("expected nil sentinel identity, got %+v", entry)
		}
	})

	t.Run("configured agent identity wins over oldest user", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return baseIdea, nil
		}
		fs.firstUserIDFn = func(ctx context.Context) (string, error) {
			return "usr-oldest", nil
		}
		svc := newTestService(fs)
		svc.cfg.AgentUserID = "usr-agent"

		if _, err := svc.PromoteIdea(context.Background(), PromoteInput{IdeaID: "idea-1"}); err != nil {
			t.Fatalf("PromoteIdea: %v", err)
		}
		if entry := fs.lastHistory(); entry == nil || entry.ChangedBy != "usr-agent" {
			t.Fatalf("expected configured agent identity, got %+v", entry)
		}
	})
}

func TestDiscardIdea(t *testing.T) {
	fs := &fakeStore{}
	fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
		switch id {
		case "idea-1":
			return store.Idea{ID: "idea-1", Status: store.IdeaStatusEvaluating, WorkspaceID: "ws-1"}, nil
		case "idea-done":
			return store.Idea{ID: "idea-done", Status: store.IdeaStatusExecuted, WorkspaceID: "ws-1"}, nil
		case "idea-gone":
			return store.Idea{ID: "idea-gone", Status: store.IdeaStatusDiscarded, WorkspaceID: "ws-1"}, nil
		}
		return store.Idea{}, sql.ErrNoRows
	}
	svc := newTestService(fs)

	idea, err := svc.DiscardIdea(context.Background(), editorSession(), "idea-1")
	if err != nil {
		t.Fatalf("DiscardIdea: %v", err)
	}
	if idea.Status != store.IdeaStatusDiscarded {
		t.Fatalf("expected discarded, got %q", idea.Status)
	}
	entry := fs.lastHistory()
	if entry == nil || entry.Details != "Idea descartada manualmente" {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if entry.ChangedBy != "usr-1" {
		t.Fatalf("expected session identity, got %q", entry.ChangedBy)
	}

	// Discarding twice is a no-op.
	before := len(fs.history)
	if _, err := svc.DiscardIdea(context.Background(), editorSession(), "idea-gone"); err != nil {
		t.Fatalf("DiscardIdea on discarded: %v", err)
	}
	if len(fs.history) != before {
		t.Fatal("repeat discard must not write history")
	}

	// An executed idea cannot be discarded.
	_, err = svc.DiscardIdea(context.Background(), editorSession(), "idea-done")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 409 {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestExpandTemplate(t *testing.T) {
	tpl := store.ProcessTemplate{
		ID:   "tpl-1",
		Name: "Flujo de incubación",
		Steps: []store.TemplateStep{
			{Title: "Investigar viabilidad", Category: store.CategoryResearch, EstimatedEffort: 2, DelayDays: 0},
			{Title: "Prototipo inicial", Category: store.CategoryInProgress, EstimatedEffort: 3, DelayDays: 3},
			{Title: "Revisión y cierre", EstimatedEffort: 2, DelayDays: 7},
		},
	}
	project := store.Document{ID: "doc-1", Title: "Portal de métricas", WorkspaceID: "ws-1"}

	newFixture := func() (*fakeStore, *Service) {
		fs := &fakeStore{}
		fs.getTemplateFn = func(ctx context.Context, id string) (store.ProcessTemplate, error) {
			if id == "tpl-1" {
				return tpl, nil
			}
			return store.ProcessTemplate{}, sql.ErrNoRows
		}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			if id == "doc-1" {
				return project, nil
			}
			return store.Document{}, sql.ErrNoRows
		}
		return fs, newTestService(fs)
	}

	t.Run("schedules due dates from start", func(t *testing.T) {
		fs, svc := newFixture()
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		result, err := svc.ExpandTemplate(context.Background(), editorSession(), "tpl-1", "doc-1", start)
		if err != nil {
			t.Fatalf("ExpandTemplate: %v", err)
		}
		if len(result.Created) != 3 || len(result.Failed) != 0 {
			t.Fatalf("expected 3 created, got %d created %d failed", len(result.Created), len(result.Failed))
		}

		wantDue := []time.Time{
			start,
			start.AddDate(0, 0, 3),
			start.AddDate(0, 0, 7),
		}
		for i, task := range result.Created {
			if task.DueDate == nil || !task.DueDate.Equal(wantDue[i]) {
				t.Fatalf("task %d: due %v, want %v", i, task.DueDate, wantDue[i])
			}
			if task.ParentID == nil || *task.ParentID != "doc-1" {
				t.Fatalf("task %d: parent %v", i, task.ParentID)
			}
			if task.CreatedByType != "template" {
				t.Fatalf("task %d: created_by_type %q", i, task.CreatedByType)
			}
		}
		// A step without a category lands in the default column.
		if result.Created[2].Category != store.CategoryInProgress {
			t.Fatalf("expected default column, got %q", result.Created[2].Category)
		}

		activity := fs.lastActivity()
		if activity == nil || activity.ActionType != "template_applied" {
			t.Fatalf("expected template_applied activity, got %+v", activity)
		}
	})

	t.Run("collects per-step failures", func(t *testing.T) {
		fs, svc := newFixture()
		fs.insertDocumentFn = func(ctx context.Context, doc store.Document) error {
			if doc.Title == "Prototipo inicial" {
				return errors.New("insert failed")
			}
			return nil
		}

		result, err := svc.ExpandTemplate(context.Background(), editorSession(), "tpl-1", "doc-1", time.Time{})
		if err != nil {
			t.Fatalf("ExpandTemplate: %v", err)
		}
		if len(result.Created) != 2 || len(result.Failed) != 1 {
			t.Fatalf("expected 2 created 1 failed, got %d/%d", len(result.Created), len(result.Failed))
		}
		if result.Failed[0].Step != "Prototipo inicial" {
			t.Fatalf("unexpected failed step: %+v", result.Failed[0])
		}
	})

	t.Run("rejects a child document as target", func(t *testing.T) {
		fs, svc := newFixture()
		parent := "doc-0"
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ParentID: &parent}, nil
		}

		_, err := svc.ExpandTemplate(context.Background(), editorSession(), "tpl-1", "doc-2", time.Time{})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
	})

	t.Run("unknown template is not found", func(t *testing.T) {
		_, svc := newFixture()
		_, err := svc.ExpandTemplate(context.Background(), editorSession(), "tpl-nope", "doc-1", time.Time{})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 404 {
			t.Fatalf("expected 404, got %v", err)
		}
	})
}

func TestValidateTemplateSteps(t *testing.T) {
	if err := validateTemplateSteps([]store.TemplateStep{{Title: "Paso", Category: store.CategoryResearch, DelayDays: 2}}); err != nil {
		t.Fatalf("valid steps rejected: %v", err)
	}
	if err := validateTemplateSteps([]store.TemplateStep{{Title: " "}}); err == nil {
		t.Fatal("blank title must be rejected")
	}
	if err := validateTemplateSteps([]store.TemplateStep{{Title: "Paso", Category: "Inventada"}}); err == nil {
		t.Fatal("unknown category must be rejected")
	}
	if err := validateTemplateSteps([]store.TemplateStep{{Title: "Paso", DelayDays: -1}}); err == nil {
		t.Fatal("negative delay must be rejected")
	}
}
