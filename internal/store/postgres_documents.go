package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const documentSelect = `
	SELECT id, parent_id, title, COALESCE(content, ''), category, doc_type, tags,
		is_archived, start_date, due_date, metadata, workspace_id, user_id,
		created_by_type, created_at, updated_at
	FROM documents`

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	return insertDocument(ctx, s.db, doc)
}

func insertDocumentTx(ctx context.Context, tx *sql.Tx, doc Document) error {
	return insertDocument(ctx, tx, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDocument(ctx context.Context, db execer, doc Document) error {
	tags, err := json.Marshal(emptyIfNil(doc.Tags))
	if err != nil {
		return fmt.Errorf("marshal document tags: %w", err)
	}
	metadata, err := json.Marshal(emptyMapIfNil(doc.Metadata))
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO documents
			(id, parent_id, title, content, category, doc_type, tags, is_archived,
			 start_date, due_date, metadata, workspace_id, user_id, created_by_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, doc.ID, doc.ParentID, doc.Title, doc.Content, doc.Category, doc.Type, tags,
		doc.IsArchived, doc.StartDate, doc.DueDate, metadata, doc.WorkspaceID,
		doc.UserID, doc.CreatedByType)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, documentSelect+` WHERE id=$1`, documentID)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, workspaceID string, includeArchived bool) ([]Document, error) {
	var conditions []string
	args := []any{}
	if workspaceID != "" {
		args = append(args, workspaceID)
		conditions = append(conditions, fmt.Sprintf("workspace_id=$%d", len(args)))
	}
	if !includeArchived {
		conditions = append(conditions, "NOT is_archived")
	}
	query := documentSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	return s.queryDocuments(ctx, query, args...)
}

func (s *PostgresStore) ListChildDocuments(ctx context.Context, parentID string) ([]Document, error) {
	return s.queryDocuments(ctx, documentSelect+` WHERE parent_id=$1 ORDER BY due_date ASC NULLS LAST, created_at ASC`, parentID)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocumentCategory(ctx context.Context, documentID, category string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET category=$2, updated_at=NOW() WHERE id=$1
	`, documentID, category)
	if err != nil {
		return fmt.Errorf("update document category: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RestoreDocumentCategory writes category and tags guarded by the updated_at
// the caller observed; returns false when a concurrent write got there first.
func (s *PostgresStore) RestoreDocumentCategory(ctx context.Context, documentID, category string, tags []string, seenUpdatedAt time.Time) (bool, error) {
	encoded, err := json.Marshal(emptyIfNil(tags))
	if err != nil {
		return false, fmt.Errorf("marshal document tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET category=$2, tags=$3, updated_at=NOW()
		WHERE id=$1 AND updated_at=$4
	`, documentID, category, encoded, seenUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("restore document category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restore rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateDocumentTags(ctx context.Context, documentID string, tags []string) error {
	encoded, err := json.Marshal(emptyIfNil(tags))
	if err != nil {
		return fmt.Errorf("marshal document tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET tags=$2, updated_at=NOW() WHERE id=$1
	`, documentID, encoded)
	if err != nil {
		return fmt.Errorf("update document tags: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetDocumentArchived(ctx context.Context, documentID string, archived bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET is_archived=$2, updated_at=NOW() WHERE id=$1
	`, documentID, archived)
	if err != nil {
		return fmt.Errorf("set document archived: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// UpdateDocumentFields applies a partial update and returns the resulting row.
func (s *PostgresStore) UpdateDocumentFields(ctx context.Context, documentID string, update DocumentUpdate) (Document, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{documentID}

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if update.Title != nil {
		addSet("title", *update.Title)
	}
	if update.Content != nil {
		addSet("content", *update.Content)
	}
	if update.Category != nil {
		addSet("category", *update.Category)
	}
	if update.Tags != nil {
		encoded, err := json.Marshal(update.Tags)
		if err != nil {
			return Document{}, fmt.Errorf("marshal document tags: %w", err)
		}
		addSet("tags", encoded)
	}
	if update.IsArchived != nil {
		addSet("is_archived", *update.IsArchived)
	}
	if update.StartDate != nil {
		addSet("start_date", *update.StartDate)
	}
	if update.DueDate != nil {
		addSet("due_date", *update.DueDate)
	}
	if update.Metadata != nil {
		encoded, err := json.Marshal(update.Metadata)
		if err != nil {
			return Document{}, fmt.Errorf("marshal document metadata: %w", err)
		}
		addSet("metadata", encoded)
	}

	query := fmt.Sprintf(`UPDATE documents SET %s WHERE id=$1 RETURNING %s`,
		strings.Join(sets, ", "), documentReturning)
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanDocument(row)
}

const documentReturning = `id, parent_id, title, COALESCE(content, ''), category, doc_type, tags,
	is_archived, start_date, due_date, metadata, workspace_id, user_id,
	created_by_type, created_at, updated_at`

// --- history ledger ---

func (s *PostgresStore) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history insert: %w", err)
	}
	defer tx.Rollback()
	if err := insertHistoryTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, entry HistoryEntry) error {
	changedAt := entry.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_history
			(id, task_id, task_type, previous_status, new_status, changed_by, changed_at, details, workspace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.TaskID, entry.TaskType, entry.PreviousStatus, entry.NewStatus,
		entry.ChangedBy, changedAt, nullString(entry.Details), entry.WorkspaceID)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// LatestHistory returns the most recent entry for a task, or nil when none
// exists. The reject path relies on this ordering.
func (s *PostgresStore) LatestHistory(ctx context.Context, taskID string) (*HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, historySelect+`
		WHERE task_id=$1 ORDER BY changed_at DESC LIMIT 1
	`, taskID)
	entry, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, taskID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, historySelect+`
		WHERE task_id=$1 ORDER BY changed_at DESC LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoryEntry, 0)
	for rows.Next() {
		item, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

const historySelect = `
	SELECT id, task_id, task_type, COALESCE(previous_status, ''), new_status,
		changed_by, changed_at, COALESCE(details, ''), workspace_id
	FROM task_history`

func scanHistory(row rowScanner) (HistoryEntry, error) {
	var item HistoryEntry
	err := row.Scan(&item.ID, &item.TaskID, &item.TaskType, &item.PreviousStatus,
		&item.NewStatus, &item.ChangedBy, &item.ChangedAt, &item.Details, &item.WorkspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, err
	}
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("scan history: %w", err)
	}
	return item, nil
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var tags, metadata []byte
	err := row.Scan(&item.ID, &item.ParentID, &item.Title, &item.Content, &item.Category,
		&item.Type, &tags, &item.IsArchived, &item.StartDate, &item.DueDate, &metadata,
		&item.WorkspaceID, &item.UserID, &item.CreatedByType, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, err
	}
	if err != nil {
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return Document{}, fmt.Errorf("decode document tags: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	return item, nil
}

func emptyIfNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func emptyMapIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
