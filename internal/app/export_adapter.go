package app

import (
	"context"

	"semilla/api/internal/export"
)

// exportDataStore feeds the report exporter from the document store.
type exportDataStore struct {
	store dataStore
}

func (e *exportDataStore) GetProject(ctx context.Context, id string) (export.ProjectInfo, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return export.ProjectInfo{}, err
	}
	return export.ProjectInfo{
		ID:          doc.ID,
		Title:       doc.Title,
		Content:     doc.Content,
		WorkspaceID: doc.WorkspaceID,
	}, nil
}

func (e *exportDataStore) GetWorkspaceName(ctx context.Context, workspaceID string) (string, error) {
	workspace, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	return workspace.Name, nil
}

func (e *exportDataStore) ListProjectTasks(ctx context.Context, projectID string) ([]export.TaskInfo, error) {
	children, err := e.store.ListChildDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks := make([]export.TaskInfo, 0, len(children))
	for _, child := range children {
		tasks = append(tasks, export.TaskInfo{
			Title:    child.Title,
			Category: child.Category,
			DueDate:  child.DueDate,
			Tags:     child.Tags,
		})
	}
	return tasks, nil
}

func (e *exportDataStore) ListProjectHistory(ctx context.Context, projectID string) ([]export.TransitionInfo, error) {
	entries, err := e.store.ListHistory(ctx, projectID, 100)
	if err != nil {
		return nil, err
	}
	transitions := make([]export.TransitionInfo, 0, len(entries))
	for _, entry := range entries {
		transitions = append(transitions, export.TransitionInfo{
			PreviousStatus: entry.PreviousStatus,
			NewStatus:      entry.NewStatus,
			ChangedBy:      entry.ChangedBy,
			ChangedAt:      entry.ChangedAt,
			Details:        entry.Details,
		})
	}
	return transitions, nil
}

var _ export.DataStore = (*exportDataStore)(nil)
