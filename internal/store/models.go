package store

import "time"

// Idea lifecycle states.
const (
	IdeaStatusDraft       = "draft"
	IdeaStatusEvaluating  = "evaluating"
	IdeaStatusPrioritized = "prioritized"
	IdeaStatusExecuted    = "executed"
	IdeaStatusDiscarded   = "discarded"
)

// Kanban board columns. The board accepts no other category.
const (
	CategoryResearch   = "Investigación"
	CategoryInProgress = "En Progreso"
	CategoryDone       = "Finalizado"
)

const (
	TaskTypeDocument = "document"
	TaskTypeIdea     = "idea"
)

// TagPendingApproval marks a document awaiting supervision.
const TagPendingApproval = "pending_approval"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	IsAgent      bool      `json:"isAgent"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Idea struct {
	ID              string     `json:"id"`
	IdeaNumber      int        `json:"ideaNumber"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	PriorityScore   int        `json:"priorityScore"` // stored 1-10
	ProgressPct     int        `json:"progressPct"`   // 0-100
	Status          string     `json:"status"`
	EstimatedEffort int        `json:"estimatedEffort"` // 1-5
	SourceURL       string     `json:"sourceUrl,omitempty"`
	StartDate       *time.Time `json:"startDate,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	CreatedByType   string     `json:"createdByType"` // manual | agent
	WorkspaceID     string     `json:"workspaceId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type Document struct {
	ID            string         `json:"id"`
	ParentID      *string        `json:"parentId"` // nil = top-level project
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Category      string         `json:"category"`
	Type          string         `json:"type"` // project | task | link
	Tags          []string       `json:"tags"`
	IsArchived    bool           `json:"isArchived"`
	StartDate     *time.Time     `json:"startDate,omitempty"`
	DueDate       *time.Time     `json:"dueDate,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	WorkspaceID   string         `json:"workspaceId"`
	UserID        string         `json:"userId"`
	CreatedByType string         `json:"createdByType"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// DocumentUpdate is a partial update for the batch endpoint. Nil fields are
// left untouched.
type DocumentUpdate struct {
	Title      *string
	Content    *string
	Category   *string
	Tags       []string
	IsArchived *bool
	StartDate  *time.Time
	DueDate    *time.Time
	Metadata   map[string]any
}

// HistoryEntry is an immutable record of one observed status transition.
type HistoryEntry struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"taskId"`
	TaskType       string    `json:"taskType"` // document | idea
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	ChangedBy      string    `json:"changedBy"`
	ChangedAt      time.Time `json:"changedAt"`
	Details        string    `json:"details,omitempty"`
	WorkspaceID    string    `json:"workspaceId"`
}

type TemplateStep struct {
	Title           string `json:"title"`
	Category        string `json:"category"`
	Description     string `json:"description,omitempty"`
	EstimatedEffort int    `json:"estimated_effort"`
	DelayDays       int    `json:"delay_days"`
}

type ProcessTemplate struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Steps       []TemplateStep `json:"steps"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type ActivityEntry struct {
	ID          string    `json:"id"`
	ActionType  string    `json:"actionType"`
	Description string    `json:"description"`
	WorkspaceID string    `json:"workspaceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func ValidCategory(category string) bool {
	switch category {
	case CategoryResearch, CategoryInProgress, CategoryDone:
		return true
	default:
		return false
	}
}

func ValidIdeaStatus(status string) bool {
	switch status {
	case IdeaStatusDraft, IdeaStatusEvaluating, IdeaStatusPrioritized, IdeaStatusExecuted, IdeaStatusDiscarded:
		return true
	default:
		return false
	}
}

func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func RemoveTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}
