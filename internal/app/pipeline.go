package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"semilla/api/internal/store"
	"semilla/api/internal/util"
)

type IngestIdeaInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	PriorityScore   *float64 `json:"priority_score"` // agent scale 0-100
	EstimatedEffort int      `json:"estimated_effort"`
	SourceURL       string   `json:"source_url"`
	WorkspaceID     string   `json:"workspace_id"`
}

type PromoteInput struct {
	IdeaID      string `json:"idea_id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
}

type ExpansionFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

type ExpansionResult struct {
	Created []store.Document   `json:"created"`
	Failed  []ExpansionFailure `json:"failed"`
}

// NormalizePriority maps an agent-supplied 0-100 score onto the board's
// 1-10 scale. A missing score lands in the middle.
func NormalizePriority(score *float64) int {
	if score == nil {
		return 5
	}
	normalized := int(math.Ceil(*score / 10))
	if normalized < 1 {
		normalized = 1
	}
	if normalized > 10 {
		normalized = 10
	}
	return normalized
}

// IngestIdea accepts an idea pushed by the research agent.
func (s *Service) IngestIdea(ctx context.Context, input IngestIdeaInput) (store.Idea, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Idea{}, validationError("title is required")
	}

	workspaceID := input.WorkspaceID
	if workspaceID == "" {
		return store.Idea{}, validationError("workspace_id is required")
	}
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Idea{}, notFoundError("workspace not found")
		}
		return store.Idea{}, err
	}

	effort := input.EstimatedEffort
	if effort < 1 || effort > 5 {
		effort = 3
	}

	idea := store.Idea{
		ID:              util.NewID("idea"),
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		PriorityScore:   NormalizePriority(input.PriorityScore),
		Status:          store.IdeaStatusEvaluating,
		EstimatedEffort: effort,
		SourceURL:       strings.TrimSpace(input.SourceURL),
		CreatedByType:   "agent",
		WorkspaceID:     workspaceID,
	}

	created, err := s.store.InsertIdea(ctx, idea)
	if err != nil {
		return store.Idea{}, err
	}

	s.recordActivity(ctx, "idea_ingested", fmt.Sprintf("Idea recibida del agente: %s", created.Title), workspaceID)
	s.indexIdea(created)
	return created, nil
}

func (s *Service) ListIdeas(ctx context.Context, workspaceID string) ([]store.Idea, error) {
	return s.store.ListIdeas(ctx, workspaceID)
}

func (s *Service) GetIdea(ctx context.Context, ideaID string) (store.Idea, error) {
	return s.store.GetIdea(ctx, ideaID)
}

// DiscardIdea moves an idea to discarded and records the transition.
func (s *Service) DiscardIdea(ctx context.Context, session Session, ideaID string) (store.Idea, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, err
	}
	if idea.Status == store.IdeaStatusDiscarded {
		return idea, nil
	}
	if idea.Status == store.IdeaStatusExecuted {
		return store.Idea{}, conflictError("idea already promoted")
	}

	if err := s.store.UpdateIdeaStatus(ctx, ideaID, store.IdeaStatusDiscarded); err != nil {
		return store.Idea{}, err
	}

	if err := s.store.InsertHistory(ctx, store.HistoryEntry{
		ID:             util.NewID("hist"),
		TaskID:         idea.ID,
		TaskType:       store.TaskTypeIdea,
		PreviousStatus: idea.Status,
		NewStatus:      store.IdeaStatusDiscarded,
		ChangedBy:      s.actorID(ctx, session.UserID),
		Details:        "Idea descartada manualmente",
		WorkspaceID:    idea.WorkspaceID,
	}); err != nil {
		return store.Idea{}, err
	}

	idea.Status = store.IdeaStatusDiscarded
	s.indexIdea(idea)
	return idea, nil
}

// PromoteIdea converts an idea into a board project. The document insert,
// the idea status flip and the ledger entry commit together or not at all.
func (s *Service) PromoteIdea(ctx context.Context, input PromoteInput) (store.Document, error) {
	if input.IdeaID == "" {
		return store.Document{}, validationError("idea_id is required")
	}

	idea, err := s.store.GetIdea(ctx, input.IdeaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, notFoundError("idea not found")
		}
		return store.Document{}, err
	}

	if input.WorkspaceID != "" && input.WorkspaceID != idea.WorkspaceID {
		return store.Document{}, forbiddenError("idea belongs to another workspace")
	}

	actor := s.actorID(ctx, input.UserID)

	doc := store.Document{
		ID:       util.NewID("doc"),
		Title:    idea.Title,
		Content:  idea.Description,
		Category: store.CategoryInProgress,
		Type:     "project",
		Tags:     []string{},
		Metadata: map[string]any{
			"idea_id":        idea.ID,
			"idea_number":    idea.IdeaNumber,
			"priority_score": idea.PriorityScore,
			"progress_pct":   idea.ProgressPct,
		},
		WorkspaceID:   idea.WorkspaceID,
		UserID:        actor,
		CreatedByType: idea.CreatedByType,
		StartDate:     idea.StartDate,
		DueDate:       idea.DueDate,
	}
	if idea.SourceURL != "" {
		doc.Metadata["source_url"] = idea.SourceURL
	}

	entry := store.HistoryEntry{
		ID:             util.NewID("hist"),
		TaskID:         idea.ID,
		TaskType:       store.TaskTypeIdea,
		PreviousStatus: idea.Status,
		NewStatus:      store.IdeaStatusExecuted,
		ChangedBy:      actor,
		Details:        fmt.Sprintf("Idea promovida a proyecto %s", doc.ID),
		WorkspaceID:    idea.WorkspaceID,
	}

	if err := s.store.PromoteIdea(ctx, doc, entry, idea.ID); err != nil {
		if errors.Is(err, store.ErrIdeaAlreadyExecuted) {
			return store.Document{}, conflictError("idea already executed or discarded")
		}
		return store.Document{}, err
	}

	s.recordActivity(ctx, "promote_idea", fmt.Sprintf("Idea #%d promovida a proyecto: %s", idea.IdeaNumber, idea.Title), idea.WorkspaceID)
	s.indexDocument(doc)
	idea.Status = store.IdeaStatusExecuted
	s.indexIdea(idea)

	if s.versions != nil {
		author := actor
		if user, err := s.store.GetUserByID(ctx, actor); err == nil && user.DisplayName != "" {
			author = user.DisplayName
		}
		_ = s.versions.Init(doc.ID, s.snapshotDocument(doc), author)
	}

	return doc, nil
}

// actorID resolves the identity recorded on writes: the explicit user when
// given, else the configured agent user, else the oldest account, else the
// nil sentinel.
func (s *Service) actorID(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if s.cfg.AgentUserID != "" {
		return s.cfg.AgentUserID
	}
	if first, err := s.store.FirstUserID(ctx); err == nil && first != "" {
		return first
	}
	return util.NilUserID
}

// Templates

func (s *Service) ListTemplates(ctx context.Context) ([]store.ProcessTemplate, error) {
	return s.store.ListTemplates(ctx)
}

func (s *Service) CreateTemplate(ctx context.Context, tpl store.ProcessTemplate) (store.ProcessTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return store.ProcessTemplate{}, validationError("name is required")
	}
	if err := validateTemplateSteps(tpl.Steps); err != nil {
		return store.ProcessTemplate{}, err
	}
	tpl.ID = util.NewID("tpl")
	if err := s.store.InsertTemplate(ctx, tpl); err != nil {
		return store.ProcessTemplate{}, err
	}
	return tpl, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, tpl store.ProcessTemplate) (store.ProcessTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return store.ProcessTemplate{}, validationError("name is required")
	}
	if err := validateTemplateSteps(tpl.Steps); err != nil {
		return store.ProcessTemplate{}, err
	}
	if _, err := s.store.GetTemplate(ctx, tpl.ID); err != nil {
		return store.ProcessTemplate{}, err
	}
	if err := s.store.UpdateTemplate(ctx, tpl); err != nil {
		return store.ProcessTemplate{}, err
	}
	return tpl, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, templateID string) error {
	return s.store.DeleteTemplate(ctx, templateID)
}

func validateTemplateSteps(steps []store.TemplateStep) error {
	for i, step := range steps {
		if strings.TrimSpace(step.Title) == "" {
			return validationError(fmt.Sprintf("step %d: title is required", i+1))
		}
		if step.Category != "" && !store.ValidCategory(step.Category) {
			return validationError(fmt.Sprintf("step %d: unknown category %q", i+1, step.Category))
		}
		if step.DelayDays < 0 {
			return validationError(fmt.Sprintf("step %d: delay_days must not be negative", i+1))
		}
	}
	return nil
}

// ExpandTemplate instantiates a template's steps as child tasks of a
// project. Each step's due date is the start date plus its delay. Failed
// steps are collected instead of aborting the batch.
func (s *Service) ExpandTemplate(ctx context.Context, session Session, templateID, projectID string, startDate time.Time) (ExpansionResult, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExpansionResult{}, notFoundError("template not found")
		}
		return ExpansionResult{}, err
	}

	project, err := s.store.GetDocument(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExpansionResult{}, notFoundError("project not found")
		}
		return ExpansionResult{}, err
	}
	if project.ParentID != nil {
		return ExpansionResult{}, validationError("target document is not a project")
	}

	if startDate.IsZero() {
		startDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	result := ExpansionResult{Created: []store.Document{}, Failed: []ExpansionFailure{}}
	for _, step := range tpl.Steps {
		category := step.Category
		if category == "" {
			category = store.CategoryInProgress
		}
		due := startDate.AddDate(0, 0, step.DelayDays)
		task := store.Document{
			ID:            util.NewID("doc"),
			ParentID:      &project.ID,
			Title:         step.Title,
			Content:       step.Description,
			Category:      category,
			Type:          "task",
			Tags:          []string{},
			DueDate:       &due,
			Metadata:      map[string]any{"template_id": tpl.ID, "estimated_effort": step.EstimatedEffort},
			WorkspaceID:   project.WorkspaceID,
			UserID:        s.actorID(ctx, session.UserID),
			CreatedByType: "template",
		}
		if err := s.store.InsertDocument(ctx, task); err != nil {
			result.Failed = append(result.Failed, ExpansionFailure{Step: step.Title, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, task)
		s.indexDocument(task)
	}

	if len(result.Created) > 0 {
		s.recordActivity(ctx, "template_applied",
			fmt.Sprintf("Plantilla %s aplicada al proyecto %s (%d tareas)", tpl.Name, project.Title, len(result.Created)),
			project.WorkspaceID)
	}
	return result, nil
}
