package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"semilla/api/internal/store"
	"semilla/api/internal/util"
)

type MoveInput struct {
	ID             string `json:"id"`
	NewStatus      string `json:"newStatus"`
	Type           string `json:"type"` // document | idea
	WorkspaceID    string `json:"workspaceId"`
	PreviousStatus string `json:"previousStatus"` // client's optimistic view, informational only
}

type CreateDocumentInput struct {
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Category    string     `json:"category"`
	Type        string     `json:"type"`
	ParentID    *string    `json:"parentId"`
	Tags        []string   `json:"tags"`
	StartDate   *time.Time `json:"startDate"`
	DueDate     *time.Time `json:"dueDate"`
	WorkspaceID string     `json:"workspaceId"`
}

type BatchUpdateEntry struct {
	ID        string         `json:"id"`
	Title     *string        `json:"title"`
	Content   *string        `json:"content"`
	Category  *string        `json:"category"`
	Tags      []string       `json:"tags"`
	DueDate   *time.Time     `json:"dueDate"`
	StartDate *time.Time     `json:"startDate"`
	Metadata  map[string]any `json:"metadata"`
}

type BatchUpdateFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BatchUpdateResult struct {
	Updated []store.Document     `json:"updated"`
	Errors  []BatchUpdateFailure `json:"errors"`
}

// MoveItem performs a board drag-and-drop transition. The ledger records
// the row's actual current status as previous_status, not the client's
// optimistic view, and the acting session identity.
func (s *Service) MoveItem(ctx context.Context, session Session, input MoveInput) (map[string]any, error) {
	if input.ID == "" {
		return nil, validationError("id is required")
	}

	switch input.Type {
	case store.TaskTypeDocument, "":
		return s.moveDocument(ctx, session, input)
	case store.TaskTypeIdea:
		return s.moveIdea(ctx, session, input)
	default:
		return nil, validationError(fmt.Sprintf("unknown item type %q", input.Type))
	}
}

func (s *Service) moveDocument(ctx context.Context, session Session, input MoveInput) (map[string]any, error) {
	if !store.ValidCategory(input.NewStatus) {
		return nil, validationError(fmt.Sprintf("unknown column %q", input.NewStatus))
	}

	doc, err := s.store.GetDocument(ctx, input.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("document not found")
		}
		return nil, err
	}
	if input.WorkspaceID != "" && input.WorkspaceID != doc.WorkspaceID {
		return nil, forbiddenError("document belongs to another workspace")
	}
	if doc.Category == input.NewStatus {
		return documentItem(doc), nil
	}

	if err := s.store.UpdateDocumentCategory(ctx, doc.ID, input.NewStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("document not found")
		}
		return nil, err
	}

	if err := s.store.InsertHistory(ctx, store.HistoryEntry{
		ID:             util.NewID("hist"),
		TaskID:         doc.ID,
		TaskType:       store.TaskTypeDocument,
		PreviousStatus: doc.Category,
		NewStatus:      input.NewStatus,
		ChangedBy:      session.UserID,
		WorkspaceID:    doc.WorkspaceID,
	}); err != nil {
		return nil, err
	}

	previous := doc.Category
	doc.Category = input.NewStatus
	s.recordActivity(ctx, "board_move",
		fmt.Sprintf("%s: %s → %s", doc.Title, previous, input.NewStatus), doc.WorkspaceID)
	s.indexDocument(doc)
	s.recordVersion(doc, session.UserName, fmt.Sprintf("Mover a %s", input.NewStatus))

	return documentItem(doc), nil
}

func (s *Service) moveIdea(ctx context.Context, session Session, input MoveInput) (map[string]any, error) {
	if !store.ValidIdeaStatus(input.NewStatus) {
		return nil, validationError(fmt.Sprintf("unknown idea status %q", input.NewStatus))
	}

	idea, err := s.store.GetIdea(ctx, input.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("idea not found")
		}
		return nil, err
	}
	if input.WorkspaceID != "" && input.WorkspaceID != idea.WorkspaceID {
		return nil, forbiddenError("idea belongs to another workspace")
	}
	if idea.Status == store.IdeaStatusExecuted {
		return nil, conflictError("idea already promoted")
	}
	if idea.Status == input.NewStatus {
		return ideaItem(idea), nil
	}
	if input.NewStatus == store.IdeaStatusExecuted {
		return nil, validationError("use the promote operation to execute an idea")
	}

	if err := s.store.UpdateIdeaStatus(ctx, idea.ID, input.NewStatus); err != nil {
		return nil, err
	}

	if err := s.store.InsertHistory(ctx, store.HistoryEntry{
		ID:             util.NewID("hist"),
		TaskID:         idea.ID,
		TaskType:       store.TaskTypeIdea,
		PreviousStatus: idea.Status,
		NewStatus:      input.NewStatus,
		ChangedBy:      session.UserID,
		WorkspaceID:    idea.WorkspaceID,
	}); err != nil {
		return nil, err
	}

	previous := idea.Status
	idea.Status = input.NewStatus
	s.recordActivity(ctx, "board_move",
		fmt.Sprintf("Idea #%d: %s → %s", idea.IdeaNumber, previous, input.NewStatus), idea.WorkspaceID)
	s.indexIdea(idea)

	return ideaItem(idea), nil
}

// ApproveDocument clears the pending_approval tag.
func (s *Service) ApproveDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, notFoundError("document not found")
		}
		return store.Document{}, err
	}
	if !store.HasTag(doc.Tags, store.TagPendingApproval) {
		return store.Document{}, conflictError("document is not pending approval")
	}

	tags := store.RemoveTag(doc.Tags, store.TagPendingApproval)
	if err := s.store.UpdateDocumentTags(ctx, doc.ID, tags); err != nil {
		return store.Document{}, err
	}

	if err := s.store.InsertHistory(ctx, store.HistoryEntry{
		ID:             util.NewID("hist"),
		TaskID:         doc.ID,
		TaskType:       store.TaskTypeDocument,
		PreviousStatus: doc.Category,
		NewStatus:      doc.Category,
		ChangedBy:      session.UserID,
		Details:        "Cambio aprobado",
		WorkspaceID:    doc.WorkspaceID,
	}); err != nil {
		return store.Document{}, err
	}

	doc.Tags = tags
	s.indexDocument(doc)
	return doc, nil
}

// RejectDocument rolls a pending document back to its last recorded
// status, or deletes it when no history exists (a rejected creation).
func (s *Service) RejectDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("document not found")
		}
		return nil, err
	}
	if !store.HasTag(doc.Tags, store.TagPendingApproval) {
		return nil, conflictError("document is not pending approval")
	}

	latest, err := s.store.LatestHistory(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	if latest == nil || latest.PreviousStatus == "" {
		// Nothing to restore: the document itself was the pending change.
		if err := s.store.InsertHistory(ctx, store.HistoryEntry{
			ID:             util.NewID("hist"),
			TaskID:         doc.ID,
			TaskType:       store.TaskTypeDocument,
			PreviousStatus: doc.Category,
			NewStatus:      "deleted",
			ChangedBy:      session.UserID,
			Details:        "Cambio rechazado, documento eliminado",
			WorkspaceID:    doc.WorkspaceID,
		}); err != nil {
			return nil, err
		}
		if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
			return nil, err
		}
		if s.search != nil {
			s.search.DeleteDocument(doc.ID)
		}
		return map[string]any{"id": doc.ID, "deleted": true}, nil
	}

	tags := store.RemoveTag(doc.Tags, store.TagPendingApproval)
	restored, err := s.store.RestoreDocumentCategory(ctx, doc.ID, latest.PreviousStatus, tags, doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if !restored {
		return nil, conflictError("document changed while rejecting")
	}

	if err := s.store.InsertHistory(ctx, store.HistoryEntry{
		ID:             util.NewID("hist"),
		TaskID:         doc.ID,
		TaskType:       store.TaskTypeDocument,
		PreviousStatus: doc.Category,
		NewStatus:      latest.PreviousStatus,
		ChangedBy:      session.UserID,
		Details:        "Cambio rechazado, estado restaurado",
		WorkspaceID:    doc.WorkspaceID,
	}); err != nil {
		return nil, err
	}

	doc.Category = latest.PreviousStatus
	doc.Tags = tags
	s.indexDocument(doc)
	return map[string]any{"id": doc.ID, "deleted": false, "document": doc}, nil
}

// BatchUpdateDocuments applies partial updates independently. Entries
// without an id are skipped; a failed entry never aborts the rest.
func (s *Service) BatchUpdateDocuments(ctx context.Context, session Session, entries []BatchUpdateEntry) BatchUpdateResult {
	result := BatchUpdateResult{Updated: []store.Document{}, Errors: []BatchUpdateFailure{}}

	for _, entry := range entries {
		if strings.TrimSpace(entry.ID) == "" {
			continue
		}
		if entry.Category != nil && !store.ValidCategory(*entry.Category) {
			result.Errors = append(result.Errors, BatchUpdateFailure{ID: entry.ID, Error: fmt.Sprintf("unknown column %q", *entry.Category)})
			continue
		}

		doc, err := s.store.UpdateDocumentFields(ctx, entry.ID, store.DocumentUpdate{
			Title:     entry.Title,
			Content:   entry.Content,
			Category:  entry.Category,
			Tags:      entry.Tags,
			DueDate:   entry.DueDate,
			StartDate: entry.StartDate,
			Metadata:  entry.Metadata,
		})
		if err != nil {
			message := err.Error()
			if errors.Is(err, sql.ErrNoRows) {
				message = "document not found"
			}
			result.Errors = append(result.Errors, BatchUpdateFailure{ID: entry.ID, Error: message})
			continue
		}

		result.Updated = append(result.Updated, doc)
		s.indexDocument(doc)
		if entry.Title != nil || entry.Content != nil || entry.Category != nil {
			s.recordVersion(doc, session.UserName, "Actualización en lote")
		}
	}

	if len(result.Updated) > 0 {
		s.recordActivity(ctx, "agent_sync",
			fmt.Sprintf("Actualización en lote: %d documentos", len(result.Updated)),
			result.Updated[0].WorkspaceID)
	}
	return result
}

// CreateDocument adds a project or task to the board.
func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (store.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Document{}, validationError("title is required")
	}
	if input.WorkspaceID == "" {
		return store.Document{}, validationError("workspaceId is required")
	}
	category := input.Category
	if category == "" {
		category = store.CategoryInProgress
	}
	if !store.ValidCategory(category) {
		return store.Document{}, validationError(fmt.Sprintf("unknown column %q", category))
	}
	docType := input.Type
	if docType == "" {
		if input.ParentID != nil {
			docType = "task"
		} else {
			docType = "project"
		}
	}
	if input.ParentID != nil {
		parent, err := s.store.GetDocument(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Document{}, notFoundError("parent document not found")
			}
			return store.Document{}, err
		}
		if parent.WorkspaceID != input.WorkspaceID {
			return store.Document{}, forbiddenError("parent belongs to another workspace")
		}
	}

	doc := store.Document{
		ID:            util.NewID("doc"),
		ParentID:      input.ParentID,
		Title:         title,
		Content:       input.Content,
		Category:      category,
		Type:          docType,
		Tags:          emptyTags(input.Tags),
		StartDate:     input.StartDate,
		DueDate:       input.DueDate,
		Metadata:      map[string]any{},
		WorkspaceID:   input.WorkspaceID,
		UserID:        s.actorID(ctx, session.UserID),
		CreatedByType: "manual",
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}

	s.indexDocument(doc)
	if s.versions != nil {
		_ = s.versions.Init(doc.ID, s.snapshotDocument(doc), session.UserName)
	}
	return doc, nil
}

// ArchiveDocument hides a document from the board without deleting it.
func (s *Service) ArchiveDocument(ctx context.Context, session Session, documentID string, archived bool) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, notFoundError("document not found")
		}
		return store.Document{}, err
	}
	if doc.IsArchived == archived {
		return doc, nil
	}
	if err := s.store.SetDocumentArchived(ctx, documentID, archived); err != nil {
		return store.Document{}, err
	}
	doc.IsArchived = archived
	if s.search != nil {
		if archived {
			s.search.DeleteDocument(doc.ID)
		} else {
			s.indexDocument(doc)
		}
	}
	return doc, nil
}

func (s *Service) ListBoard(ctx context.Context, workspaceID string, includeArchived bool) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx, workspaceID, includeArchived)
	if err != nil {
		return nil, err
	}
	ideas, err := s.store.ListIdeas(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(documents)+len(ideas))
	for _, doc := range documents {
		items = append(items, documentItem(doc))
	}
	for _, idea := range ideas {
		if idea.Status == store.IdeaStatusExecuted || idea.Status == store.IdeaStatusDiscarded {
			continue
		}
		items = append(items, ideaItem(idea))
	}
	return items, nil
}

func (s *Service) ListDocuments(ctx context.Context, workspaceID string, includeArchived bool) ([]store.Document, error) {
	return s.store.ListDocuments(ctx, workspaceID, includeArchived)
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	return s.store.GetDocument(ctx, documentID)
}

func (s *Service) DocumentTasks(ctx context.Context, documentID string) ([]store.Document, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListChildDocuments(ctx, documentID)
}

func (s *Service) DocumentHistory(ctx context.Context, taskID string, limit int) ([]store.HistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListHistory(ctx, taskID, limit)
}

func documentItem(doc store.Document) map[string]any {
	return map[string]any{
		"type":     store.TaskTypeDocument,
		"document": doc,
	}
}

func ideaItem(idea store.Idea) map[string]any {
	return map[string]any{
		"type": store.TaskTypeIdea,
		"idea": idea,
	}
}

func emptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
