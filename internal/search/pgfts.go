package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and idea_pipeline
// using plainto_tsquery and ts_rank, with ts_headline for snippets. The
// 'simple' configuration matches the generated fts columns; titles are
// mostly Spanish and stemming them with an English dictionary mangles
// matches.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery + " AND NOT d.is_archived"
		if q.FilterWorkspaceID != "" {
			docWhere += fmt.Sprintf(" AND d.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('simple', coalesce(d.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.category, ''::text AS status, d.workspace_id,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultIdea {
		ideaWhere := "i.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			ideaWhere += fmt.Sprintf(" AND i.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'idea'::text AS type, i.id, i.title,
				ts_headline('simple', coalesce(i.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS category, i.status, i.workspace_id,
				ts_rank(i.fts, %s) AS rank
			FROM idea_pipeline i
			WHERE %s`, tsQuery, tsQuery, ideaWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, category, status, workspace_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Category, &r.Status, &r.WorkspaceID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []IdeaRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(content, ''), category, doc_type, workspace_id
		FROM documents
		WHERE NOT is_archived
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.Content, &d.Category, &d.Type, &d.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	ideaRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(description, ''), status, workspace_id
		FROM idea_pipeline
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load ideas: %w", err)
	}
	defer ideaRows.Close()

	ideas := make([]IdeaRecord, 0)
	for ideaRows.Next() {
		var i IdeaRecord
		if err := ideaRows.Scan(&i.ID, &i.Title, &i.Description, &i.Status, &i.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan idea: %w", err)
		}
		ideas = append(ideas, i)
	}
	if err := ideaRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate ideas: %w", err)
	}

	return documents, ideas, nil
}
