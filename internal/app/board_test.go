package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"semilla/api/internal/store"
)

func strPtr(s string) *string { return &s }

func TestMoveDocument(t *testing.T) {
	doc := store.Document{
		ID:          "doc-1",
		Title:       "Portal de métricas",
		Category:    store.CategoryResearch,
		Type:        "project",
		Tags:        []string{},
		WorkspaceID: "ws-1",
	}

	newFixture := func() (*fakeStore, *Service) {
		fs := &fakeStore{}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			if id == "doc-1" {
				return doc, nil
			}
			return store.Document{}, sql.ErrNoRows
		}
		return fs, newTestService(fs)
	}

	t.Run("records actual previous status and session identity", func(t *testing.T) {
		fs, svc := newFixture()

		// The client believes the document is already done; the ledger must
		// record what the row actually said.
		item, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:             "doc-1",
			NewStatus:      store.CategoryInProgress,
			PreviousStatus: store.CategoryDone,
		})
		if err != nil {
			t.Fatalf("MoveItem: %v", err)
		}
		moved, ok := item["document"].(store.Document)
		if !ok || moved.Category != store.CategoryInProgress {
			t.Fatalf("unexpected item: %+v", item)
		}

		entry := fs.lastHistory()
		if entry == nil {
			t.Fatal("expected a history entry")
		}
		if entry.PreviousStatus != store.CategoryResearch {
			t.Fatalf("previous_status = %q, want the row's actual %q", entry.PreviousStatus, store.CategoryResearch)
		}
		if entry.ChangedBy != "usr-1" {
			t.Fatalf("changed_by = %q, want the session identity", entry.ChangedBy)
		}
		if activity := fs.lastActivity(); activity == nil || activity.ActionType != "board_move" {
			t.Fatalf("expected board_move activity, got %+v", activity)
		}
	})

	t.Run("same column is a no-op", func(t *testing.T) {
		fs, svc := newFixture()
		if _, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:        "doc-1",
			NewStatus: store.CategoryResearch,
		}); err != nil {
			t.Fatalf("MoveItem: %v", err)
		}
		if len(fs.history) != 0 {
			t.Fatal("no-op move must not write history")
		}
	})

	t.Run("unknown column is rejected", func(t *testing.T) {
		_, svc := newFixture()
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{ID: "doc-1", NewStatus: "Pendiente"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
	})

	t.Run("workspace mismatch is forbidden", func(t *testing.T) {
		_, svc := newFixture()
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:          "doc-1",
			NewStatus:   store.CategoryDone,
			WorkspaceID: "ws-2",
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 403 {
			t.Fatalf("expected 403, got %v", err)
		}
	})

	t.Run("missing document is not found", func(t *testing.T) {
		_, svc := newFixture()
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{ID: "doc-nope", NewStatus: store.CategoryDone})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 404 {
			t.Fatalf("expected 404, got %v", err)
		}
	})
}

func TestMoveIdea(t *testing.T) {
	newFixture := func(status string) (*fakeStore, *Service) {
		fs := &fakeStore{}
		fs.getIdeaFn = func(ctx context.Context, id string) (store.Idea, error) {
			return store.Idea{ID: id, IdeaNumber: 3, Status: status, WorkspaceID: "ws-1"}, nil
		}
		return fs, newTestService(fs)
	}

	t.Run("moves within the idea vocabulary", func(t *testing.T) {
		fs, svc := newFixture(store.IdeaStatusEvaluating)
		item, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:        "idea-1",
			Type:      store.TaskTypeIdea,
			NewStatus: store.IdeaStatusPrioritized,
		})
		if err != nil {
			t.Fatalf("MoveItem: %v", err)
		}
		idea, ok := item["idea"].(store.Idea)
		if !ok || idea.Status != store.IdeaStatusPrioritized {
			t.Fatalf("unexpected item: %+v", item)
		}
		entry := fs.lastHistory()
		if entry == nil || entry.TaskType != store.TaskTypeIdea || entry.PreviousStatus != store.IdeaStatusEvaluating {
			t.Fatalf("unexpected history entry: %+v", entry)
		}
	})

	t.Run("board columns are not idea statuses", func(t *testing.T) {
		_, svc := newFixture(store.IdeaStatusEvaluating)
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:        "idea-1",
			Type:      store.TaskTypeIdea,
			NewStatus: store.CategoryDone,
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
	})

	t.Run("executed ideas are frozen", func(t *testing.T) {
		_, svc := newFixture(store.IdeaStatusExecuted)
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:        "idea-1",
			Type:      store.TaskTypeIdea,
			NewStatus: store.IdeaStatusDraft,
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 409 {
			t.Fatalf("expected 409, got %v", err)
		}
	})

	t.Run("executed is reserved for promotion", func(t *testing.T) {
		_, svc := newFixture(store.IdeaStatusPrioritized)
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:        "idea-1",
			Type:      store.TaskTypeIdea,
			NewStatus: store.IdeaStatusExecuted,
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
	})

	t.Run("unknown item type is rejected", func(t *testing.T) {
		_, svc := newFixture(store.IdeaStatusEvaluating)
		_, err := svc.MoveItem(context.Background(), editorSession(), MoveInput{
			ID:        "idea-1",
			Type:      "workspace",
			NewStatus: store.IdeaStatusDraft,
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Fatalf("expected 422, got %v", err)
		}
	})
}

func TestApproveDocument(t *testing.T) {
	newFixture := func(tags []string) (*fakeStore, *Service) {
		fs := &fakeStore{}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			return store.Document{
				ID:          id,
				Title:       "Borrador",
				Category:    store.CategoryInProgress,
				Tags:        tags,
				WorkspaceID: "ws-1",
			}, nil
		}
		return fs, newTestService(fs)
	}

	t.Run("strips the pending tag", func(t *testing.T) {
		fs, svc := newFixture([]string{"infra", store.TagPendingApproval})
		doc, err := svc.ApproveDocument(context.Background(), editorSession(), "doc-1")
		if err != nil {
			t.Fatalf("ApproveDocument: %v", err)
		}
		if store.HasTag(doc.Tags, store.TagPendingApproval) {
			t.Fatalf("tag not removed: %v", doc.Tags)
		}
		if len(doc.Tags) != 1 || doc.Tags[0] != "infra" {
			t.Fatalf("other tags must survive: %v", doc.Tags)
		}
		entry := fs.lastHistory()
		if entry == nil || entry.Details != "Cambio aprobado" {
			t.Fatalf("unexpected history entry: %+v", entry)
		}
	})

	t.Run("conflict when not pending", func(t *testing.T) {
		_, svc := newFixture([]string{"infra"})
		_, err := svc.ApproveDocument(context.Background(), editorSession(), "doc-1")
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 409 {
			t.Fatalf("expected 409, got %v", err)
		}
	})
}

func TestRejectDocument(t *testing.T) {
	pendingDoc := func() store.Document {
		return store.Document{
			ID:          "doc-1",
			Title:       "Borrador",
			Category:    store.CategoryInProgress,
			Tags:        []string{store.TagPendingApproval},
			WorkspaceID: "ws-1",
			UpdatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		}
	}

	t.Run("restores the last recorded status", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			return pendingDoc(), nil
		}
		fs.latestHistoryFn = func(ctx context.Context, taskID string) (*store.HistoryEntry, error) {
			return &store.HistoryEntry{PreviousStatus: store.CategoryResearch, NewStatus: store.CategoryInProgress}, nil
		}
		var restoredTo string
		fs.restoreDocumentCategoryFn = func(ctx context.Context, id, category string, tags []string, seen time.Time) (bool, error) {
			restoredTo = category
			return true, nil
		}
		svc := newTestService(fs)

		result, err := svc.RejectDocument(context.Background(), editorSession(), "doc-1")
		if err != nil {
			t.Fatalf("RejectDocument: %v", err)
		}
		if result["deleted"] != false {
			t.Fatalf("expected deleted=false, got %+v", result)
		}
		if restoredTo != store.CategoryResearch {
			t.Fatalf("restored to %q, want %q", restoredTo, store.CategoryResearch)
		}
		entry := fs.lastHistory()
		if entry == nil || entry.Details != "Cambio rechazado, estado restaurado" {
			t.Fatalf("unexpected history entry: %+v", entry)
		}
	})

	t.Run("deletes when no history exists", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			return pendingDoc(), nil
		}
		var deleted bool
		fs.deleteDocumentFn = func(ctx context.Context, id string) error {
			deleted = true
			return nil
		}
		svc := newTestService(fs)

		result, err := svc.RejectDocument(context.Background(), editorSession(), "doc-1")
		if err != nil {
			t.Fatalf("RejectDocument: %v", err)
		}
		if result["deleted"] != true || !deleted {
			t.Fatalf("expected deletion, got %+v (deleted=%v)", result, deleted)
		}
		entry := fs.lastHistory()
		if entry == nil || entry.NewStatus != "deleted" {
			t.Fatalf("unexpected history entry: %+v", entry)
		}
	})

	t.Run("conflict when the row moved underneath", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			return pendingDoc(), nil
		}
		fs.latestHistoryFn = func(ctx context.Context, taskID string) (*store.HistoryEntry, error) {
			return &store.HistoryEntry{PreviousStatus: store.CategoryResearch}, nil
		}
		fs.restoreDocumentCategoryFn = func(ctx context.Context, id, category string, tags []string, seen time.Time) (bool, error) {
			return false, nil
		}
		svc := newTestService(fs)

		_, err := svc.RejectDocument(context.Background(), editorSession(), "doc-1")
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 409 {
			t.Fatalf("expected 409, got %v", err)
		}
	})

	t.Run("conflict when not pending", func(t *testing.T) {
		fs := &fakeStore{}
		fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, Tags: []string{}}, nil
		}
		svc := newTestService(fs)

		_, err := svc.RejectDocument(context.Background(), editorSession(), "doc-1")
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 409 {
			t.Fatalf("expected 409, got %v", err)
		}
	})
}

func TestBatchUpdateDocuments(t *testing.T) {
	fs := &fakeStore{}
	fs.updateDocumentFieldsFn = func(ctx context.Context, id string, update store.DocumentUpdate) (store.Document, error) {
		switch id {
		case "doc-1":
			doc := store.Document{ID: "doc-1", Title: "Actualizado", WorkspaceID: "ws-1"}
			if update.Title != nil {
				doc.Title = *update.Title
			}
			return doc, nil
		case "doc-gone":
			return store.Document{}, sql.ErrNoRows
		}
		return store.Document{}, errors.New("boom")
	}
	svc := newTestService(fs)

	result := svc.BatchUpdateDocuments(context.Background(), editorSession(), []BatchUpdateEntry{
		{ID: "doc-1", Title: strPtr("Nuevo título")},
		{ID: "  "}, // skipped
		{ID: "doc-gone", Content: strPtr("x")},
		{ID: "doc-2", Category: strPtr("Columna Falsa")},
	})

	if len(result.Updated) != 1 {
		t.Fatalf("expected 1 updated, got %d", len(result.Updated))
	}
	if result.Updated[0].Title != "Nuevo título" {
		t.Fatalf("unexpected updated doc: %+v", result.Updated[0])
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", result.Errors)
	}
	if result.Errors[1].ID != "doc-gone" && result.Errors[0].ID != "doc-gone" {
		t.Fatalf("missing doc-gone failure: %+v", result.Errors)
	}
	for _, failure := range result.Errors {
		if failure.ID == "doc-gone" && failure.Error != "document not found" {
			t.Fatalf("expected friendly not-found message, got %q", failure.Error)
		}
	}
	if activity := fs.lastActivity(); activity == nil || activity.ActionType != "agent_sync" {
		t.Fatalf("expected agent_sync activity, got %+v", activity)
	}
}

func TestCreateDocument(t *testing.T) {
	fs := &fakeStore{}
	fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
		if id == "doc-parent" {
			return store.Document{ID: "doc-parent", WorkspaceID: "ws-1"}, nil
		}
		return store.Document{}, sql.ErrNoRows
	}
	svc := newTestService(fs)

	t.Run("defaults type by parent", func(t *testing.T) {
		doc, err := svc.CreateDocument(context.Background(), editorSession(), CreateDocumentInput{
			Title:       "Proyecto suelto",
			WorkspaceID: "ws-1",
		})
		if err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
		if doc.Type != "project" || doc.Category != store.CategoryInProgress {
			t.Fatalf("unexpected defaults: %+v", doc)
		}

		parent := "doc-parent"
		child, err := svc.CreateDocument(context.Background(), editorSession(), CreateDocumentInput{
			Title:       "Subtarea",
			ParentID:    &parent,
			WorkspaceID: "ws-1",
		})
		if err != nil {
			t.Fatalf("CreateDocument child: %v", err)
		}
		if child.Type != "task" {
			t.Fatalf("expected task, got %q", child.Type)
		}
	})

	t.Run("parent in another workspace is forbidden", func(t *testing.T) {
		parent := "doc-parent"
		_, err := svc.CreateDocument(context.Background(), editorSession(), CreateDocumentInput{
			Title:       "Subtarea",
			ParentID:    &parent,
			WorkspaceID: "ws-2",
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 403 {
			t.Fatalf("expected 403, got %v", err)
		}
	})
}

func TestArchiveDocument(t *testing.T) {
	fs := &fakeStore{}
	fs.getDocumentFn = func(ctx context.Context, id string) (store.Document, error) {
		return store.Document{ID: id, IsArchived: false, WorkspaceID: "ws-1"}, nil
	}
	var archivedSet *bool
	fs.setDocumentArchivedFn = func(ctx context.Context, id string, archived bool) error {
		archivedSet = &archived
		return nil
	}
	svc := newTestService(fs)

	doc, err := svc.ArchiveDocument(context.Background(), editorSession(), "doc-1", true)
	if err != nil {
		t.Fatalf("ArchiveDocument: %v", err)
	}
	if !doc.IsArchived || archivedSet == nil || !*archivedSet {
		t.Fatalf("archive flag not applied: %+v", doc)
	}

	// Archiving an already archived document is a no-op.
	archivedSet = nil
	if _, err := svc.ArchiveDocument(context.Background(), editorSession(), "doc-1", false); err != nil {
		t.Fatalf("ArchiveDocument unarchive: %v", err)
	}
}

func TestListBoardMergesDocumentsAndIdeas(t *testing.T) {
	fs := &fakeStore{}
	fs.listDocumentsFn = func(ctx context.Context, workspaceID string, includeArchived bool) ([]store.Document, error) {
		return []store.Document{{ID: "doc-1", Category: store.CategoryInProgress}}, nil
	}
	fs.listIdeasFn = func(ctx context.Context, workspaceID string) ([]store.Idea, error) {
		return []store.Idea{
			{ID: "idea-1", Status: store.IdeaStatusEvaluating},
			{ID: "idea-2", Status: store.IdeaStatusExecuted},
			{ID: "idea-3", Status: store.IdeaStatusDiscarded},
		}, nil
	}
	svc := newTestService(fs)

	items, err := svc.ListBoard(context.Background(), "ws-1", false)
	if err != nil {
		t.Fatalf("ListBoard: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected document plus live idea, got %d items", len(items))
	}
	if items[0]["type"] != store.TaskTypeDocument || items[1]["type"] != store.TaskTypeIdea {
		t.Fatalf("unexpected item tags: %+v", items)
	}
}
