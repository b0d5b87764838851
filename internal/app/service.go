package app

import (
	"context"
	"fmt"
	"time"

	"semilla/api/internal/auth"
	"semilla/api/internal/authpw"
	"semilla/api/internal/config"
	"semilla/api/internal/export"
	"semilla/api/internal/rbac"
	"semilla/api/internal/search"
	"semilla/api/internal/store"
	"semilla/api/internal/util"
	"semilla/api/internal/versions"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	IsAgent      bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	FirstUserID(context.Context) (string, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListWorkspaces(context.Context) ([]store.Workspace, error)
	GetWorkspace(context.Context, string) (store.Workspace, error)
	InsertWorkspace(context.Context, store.Workspace) error
	UpdateWorkspace(context.Context, string, string, string) error
	DeleteWorkspace(context.Context, string) error
	WorkspaceItemCount(context.Context, string) (int, error)

	InsertActivity(context.Context, store.ActivityEntry) error
	ListActivity(context.Context, string, int) ([]store.ActivityEntry, error)

	InsertIdea(context.Context, store.Idea) (store.Idea, error)
	GetIdea(context.Context, string) (store.Idea, error)
	ListIdeas(context.Context, string) ([]store.Idea, error)
	UpdateIdeaStatus(context.Context, string, string) error
	PromoteIdea(context.Context, store.Document, store.HistoryEntry, string) error

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, string, bool) ([]store.Document, error)
	ListChildDocuments(context.Context, string) ([]store.Document, error)
	UpdateDocumentCategory(context.Context, string, string) error
	RestoreDocumentCategory(context.Context, string, string, []string, time.Time) (bool, error)
	UpdateDocumentTags(context.Context, string, []string) error
	SetDocumentArchived(context.Context, string, bool) error
	DeleteDocument(context.Context, string) error
	UpdateDocumentFields(context.Context, string, store.DocumentUpdate) (store.Document, error)

	InsertHistory(context.Context, store.HistoryEntry) error
	LatestHistory(context.Context, string) (*store.HistoryEntry, error)
	ListHistory(context.Context, string, int) ([]store.HistoryEntry, error)

	ListTemplates(context.Context) ([]store.ProcessTemplate, error)
	GetTemplate(context.Context, string) (store.ProcessTemplate, error)
	InsertTemplate(context.Context, store.ProcessTemplate) error
	UpdateTemplate(context.Context, store.ProcessTemplate) error
	DeleteTemplate(context.Context, string) error
}

// sessionStore holds refresh tokens. Backed by Redis when configured,
// otherwise by the Postgres store.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type versionService interface {
	Init(documentID string, initial versions.Snapshot, author string) error
	Record(documentID string, snap versions.Snapshot, author, message string) (versions.Record, error)
	History(documentID string, limit int) ([]versions.Record, error)
	SnapshotAt(documentID, hash string) (versions.Snapshot, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexIdea(idea search.IdeaRecord)
	DeleteDocument(id string)
	DeleteIdea(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	passwd   *authpw.Service
	versions versionService
	search   searchIndex
	exporter exporter
}

func New(cfg config.Config, pg *store.PostgresStore, vers *versions.Service, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    pg,
		sessions: pg,
		passwd:   authpw.NewService(pg),
	}
	if vers != nil {
		s.versions = vers
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	s.exporter = export.NewService(&exportDataStore{store: s.store})
	return s
}

// UseSessionStore swaps the refresh-session backend, typically for Redis.
func (s *Service) UseSessionStore(sessions sessionStore) {
	if sessions != nil {
		s.sessions = sessions
	}
}

// Bootstrap seeds the default workspace and incubation template on an
// empty database.
func (s *Service) Bootstrap(ctx context.Context) error {
	workspaces, err := s.store.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	if len(workspaces) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Ana")
	if err != nil {
		return err
	}

	workspace := store.Workspace{
		ID:      util.NewID("ws"),
		Name:    "Espacio Principal",
		Slug:    "principal",
		OwnerID: owner.ID,
	}
	if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
		return err
	}

	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		seed := store.ProcessTemplate{
			ID:          util.NewID("tpl"),
			Name:        "Flujo de incubación",
			Description: "Pasos estándar para llevar una idea de investigación a entrega.",
			Steps: []store.TemplateStep{
				{Title: "Investigar viabilidad", Category: store.CategoryResearch, EstimatedEffort: 2, DelayDays: 0},
				{Title: "Prototipo inicial", Category: store.CategoryInProgress, EstimatedEffort: 3, DelayDays: 3},
				{Title: "Revisión y cierre", Category: store.CategoryInProgress, EstimatedEffort: 2, DelayDays: 7},
			},
		}
		if err := s.store.InsertTemplate(ctx, seed); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwd.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwd.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return s.passwd.RequestPasswordReset(ctx, email)
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.passwd.ResetPassword(ctx, token, newPassword)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis backend only stores the user id; refill from Postgres.
	if user.DisplayName == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		IsAgent:      user.IsAgent,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		IsAgent:   user.IsAgent,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Workspaces

func (s *Service) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	return s.store.ListWorkspaces(ctx)
}

func (s *Service) CreateWorkspace(ctx context.Context, session Session, name, slug string) (store.Workspace, error) {
	if name == "" {
		return store.Workspace{}, validationError("name is required")
	}
	if slug == "" {
		slug = util.Slugify(name)
	}
	workspace := store.Workspace{
		ID:      util.NewID("ws"),
		Name:    name,
		Slug:    slug,
		OwnerID: session.UserID,
	}
	if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
		return store.Workspace{}, err
	}
	return workspace, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, workspaceID, name, slug string) (store.Workspace, error) {
	if name == "" {
		return store.Workspace{}, validationError("name is required")
	}
	current, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, err
	}
	if slug == "" {
		slug = current.Slug
	}
	if err := s.store.UpdateWorkspace(ctx, workspaceID, name, slug); err != nil {
		return store.Workspace{}, err
	}
	current.Name = name
	current.Slug = slug
	return current, nil
}

// DeleteWorkspace refuses to drop a workspace that still holds items.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	count, err := s.store.WorkspaceItemCount(ctx, workspaceID)
	if err != nil {
		return err
	}
	if count > 0 {
		return conflictError(fmt.Sprintf("workspace still has %d items", count))
	}
	return s.store.DeleteWorkspace(ctx, workspaceID)
}

// Activity feed

func (s *Service) ListActivity(ctx context.Context, workspaceID string, limit int) ([]store.ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListActivity(ctx, workspaceID, limit)
}

func (s *Service) recordActivity(ctx context.Context, actionType, description, workspaceID string) {
	_ = s.store.InsertActivity(ctx, store.ActivityEntry{
		ID:          util.NewID("act"),
		ActionType:  actionType,
		Description: description,
		WorkspaceID: workspaceID,
	})
}

// Search

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Versions

func (s *Service) DocumentVersions(ctx context.Context, documentID string, limit int) ([]versions.Record, error) {
	if s.versions == nil {
		return []versions.Record{}, nil
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	records, err := s.versions.History(documentID, limit)
	if err != nil {
		return nil, notFoundError("no version history for document")
	}
	return records, nil
}

func (s *Service) DocumentVersionAt(ctx context.Context, documentID, hash string) (versions.Snapshot, error) {
	if s.versions == nil {
		return versions.Snapshot{}, notFoundError("version history disabled")
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return versions.Snapshot{}, err
	}
	snap, err := s.versions.SnapshotAt(documentID, hash)
	if err != nil {
		return versions.Snapshot{}, notFoundError("version not found")
	}
	return snap, nil
}

// Export

func (s *Service) ExportProject(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	return s.exporter.Export(ctx, req)
}

// internal helpers shared by pipeline.go and board.go

func (s *Service) snapshotDocument(doc store.Document) versions.Snapshot {
	return versions.Snapshot{
		Title:    doc.Title,
		Content:  doc.Content,
		Category: doc.Category,
	}
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		Content:     doc.Content,
		Category:    doc.Category,
		Type:        doc.Type,
		WorkspaceID: doc.WorkspaceID,
	})
}

func (s *Service) indexIdea(idea store.Idea) {
	if s.search == nil {
		return
	}
	s.search.IndexIdea(search.IdeaRecord{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Status:      idea.Status,
		WorkspaceID: idea.WorkspaceID,
	})
}

func (s *Service) recordVersion(doc store.Document, author, message string) {
	if s.versions == nil {
		return
	}
	if err := s.versions.Init(doc.ID, s.snapshotDocument(doc), author); err != nil {
		return
	}
	_, _ = s.versions.Record(doc.ID, s.snapshotDocument(doc), author, message)
}
