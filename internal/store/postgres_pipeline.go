package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIdeaAlreadyExecuted is returned when a promotion races another promotion
// or targets an idea that already left the pipeline.
var ErrIdeaAlreadyExecuted = errors.New("idea already executed or discarded")

func (s *PostgresStore) InsertIdea(ctx context.Context, idea Idea) (Idea, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO idea_pipeline
			(id, title, description, priority_score, progress_pct, status, estimated_effort,
			 source_url, start_date, due_date, created_by_type, workspace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING idea_number, created_at, updated_at
	`, idea.ID, idea.Title, idea.Description, idea.PriorityScore, idea.ProgressPct, idea.Status,
		idea.EstimatedEffort, nullString(idea.SourceURL), idea.StartDate, idea.DueDate,
		idea.CreatedByType, idea.WorkspaceID,
	).Scan(&idea.IdeaNumber, &idea.CreatedAt, &idea.UpdatedAt)
	if err != nil {
		return Idea{}, fmt.Errorf("insert idea: %w", err)
	}
	return idea, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	row := s.db.QueryRowContext(ctx, ideaSelect+` WHERE id=$1`, ideaID)
	return scanIdea(row)
}

func (s *PostgresStore) ListIdeas(ctx context.Context, workspaceID string) ([]Idea, error) {
	query := ideaSelect
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id=$1`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY priority_score DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		item, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateIdeaStatus(ctx context.Context, ideaID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idea_pipeline SET status=$2, updated_at=NOW() WHERE id=$1
	`, ideaID, status)
	if err != nil {
		return fmt.Errorf("update idea status: %w", err)
	}
	return nil
}

// PromoteIdea applies the three promotion effects as one transaction, in the
// documented order: document insert, idea status flip, history append. The
// status flip is guarded so a concurrent or repeated promotion observes
// ErrIdeaAlreadyExecuted instead of minting a second document.
func (s *PostgresStore) PromoteIdea(ctx context.Context, doc Document, entry HistoryEntry, ideaID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promotion: %w", err)
	}
	defer tx.Rollback()

	if err := insertDocumentTx(ctx, tx, doc); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE idea_pipeline SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status NOT IN ($3, $4)
	`, ideaID, IdeaStatusExecuted, IdeaStatusExecuted, IdeaStatusDiscarded)
	if err != nil {
		return fmt.Errorf("mark idea executed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("promotion rows affected: %w", err)
	}
	if affected == 0 {
		return ErrIdeaAlreadyExecuted
	}

	if err := insertHistoryTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promotion: %w", err)
	}
	return nil
}

// --- process templates ---

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]ProcessTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), steps, created_at
		FROM process_templates ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]ProcessTemplate, 0)
	for rows.Next() {
		item, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (ProcessTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), steps, created_at
		FROM process_templates WHERE id=$1
	`, templateID)
	return scanTemplate(row)
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, tpl ProcessTemplate) error {
	steps, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("marshal template steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_templates (id, name, description, steps)
		VALUES ($1, $2, $3, $4)
	`, tpl.ID, tpl.Name, tpl.Description, steps)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, tpl ProcessTemplate) error {
	steps, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("marshal template steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE process_templates SET name=$2, description=$3, steps=$4 WHERE id=$1
	`, tpl.ID, tpl.Name, tpl.Description, steps)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM process_templates WHERE id=$1`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// --- scan helpers ---

const ideaSelect = `
	SELECT id, idea_number, title, COALESCE(description, ''), priority_score, progress_pct,
		status, estimated_effort, COALESCE(source_url, ''), start_date, due_date,
		created_by_type, workspace_id, created_at, updated_at
	FROM idea_pipeline`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row rowScanner) (Idea, error) {
	var item Idea
	err := row.Scan(&item.ID, &item.IdeaNumber, &item.Title, &item.Description, &item.PriorityScore,
		&item.ProgressPct, &item.Status, &item.EstimatedEffort, &item.SourceURL,
		&item.StartDate, &item.DueDate, &item.CreatedByType, &item.WorkspaceID,
		&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, err
	}
	if err != nil {
		return Idea{}, fmt.Errorf("scan idea: %w", err)
	}
	return item, nil
}

func scanTemplate(row rowScanner) (ProcessTemplate, error) {
	var item ProcessTemplate
	var steps []byte
	err := row.Scan(&item.ID, &item.Name, &item.Description, &steps, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessTemplate{}, err
	}
	if err != nil {
		return ProcessTemplate{}, fmt.Errorf("scan template: %w", err)
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &item.Steps); err != nil {
			return ProcessTemplate{}, fmt.Errorf("decode template steps: %w", err)
		}
	}
	return item, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
