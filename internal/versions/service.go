// Package versions keeps a git-backed history of document content. Each
// document gets its own bare-bones repository with a single main branch
// holding a content.json snapshot per revision.
package versions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot is the versioned content of one document.
type Snapshot struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// Record describes one recorded revision.
type Record struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Init creates the repository for a document with its first snapshot.
// It is a no-op when the repository already exists.
func (s *Service) Init(documentID string, initial Snapshot, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "content.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial snapshot: %w", err)
	}
	if _, err := worktree.Add("content.json"); err != nil {
		return fmt.Errorf("git add initial snapshot: %w", err)
	}
	hash, err := worktree.Commit("Versión inicial", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial snapshot: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// Record commits a new snapshot on main. When the snapshot is identical
// to the current head the existing head record is returned and no commit
// is made.
func (s *Service) Record(documentID string, snap Snapshot, author, message string) (Record, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Record{}, fmt.Errorf("open repo: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload = append(payload, '\n')

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Record{}, fmt.Errorf("resolve main: %w", err)
	}
	head, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Record{}, fmt.Errorf("load head commit: %w", err)
	}
	if current, err := rawSnapshotFromCommit(head); err == nil && bytes.Equal(current, payload) {
		return toRecord(head), nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Record{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("main"), Force: true}); err != nil {
		return Record{}, fmt.Errorf("checkout main: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "content.json"), payload, 0o644); err != nil {
		return Record{}, fmt.Errorf("write content.json: %w", err)
	}
	if _, err := worktree.Add("content.json"); err != nil {
		return Record{}, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return Record{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Record{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRecord(commitObj), nil
}

// History lists snapshot records, newest first.
func (s *Service) History(documentID string, limit int) ([]Record, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Record, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRecord(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt reads the snapshot stored at a specific revision.
func (s *Service) SnapshotAt(documentID, hash string) (Snapshot, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	raw, err := rawSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func rawSnapshotFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File("content.json")
	if err != nil {
		return nil, fmt.Errorf("load content.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return raw, nil
}

func toRecord(commitObj *object.Commit) Record {
	return Record{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.semilla.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
