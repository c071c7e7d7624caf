package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
)

type Task struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Price       float64        `gorm:"not null;check:price >= 0" json:"price"`
	Location    string         `gorm:"not null" json:"location"`
	Skills      pq.StringArray `gorm:"type:text[]" json:"skills"`

	Status     TaskStatus     `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	ClientID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"clientId"`
	AssignedTo *uuid.UUID     `gorm:"type:uuid;index" json:"assignedTo"`
	Applicants pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"applicants"`

	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (t *Task) HasApplicant(id uuid.UUID) bool {
	s := id.String()
	for _, a := range t.Applicants {
		if a == s {
			return true
		}
	}
	return false
}

// ApplicantIDs parses the stored applicant references, skipping malformed ones.
func (t *Task) ApplicantIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(t.Applicants))
	for _, a := range t.Applicants {
		if id, err := uuid.Parse(a); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (t Task) Clone() Task {
	if t.Skills != nil {
		t.Skills = append(pq.StringArray(nil), t.Skills...)
	}
	t.Applicants = append(pq.StringArray{}, t.Applicants...)
	if t.AssignedTo != nil {
		a := *t.AssignedTo
		t.AssignedTo = &a
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	return t
}

// TaskPatch holds the fields a client may change while the task is open.
// Nil means unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Price       *float64
	Location    *string
	Skills      *[]string
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil && p.Location == nil && p.Skills == nil
}

// Columns returns the patch as a column map for a conditional update.
func (p TaskPatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Price != nil {
		cols["price"] = *p.Price
	}
	if p.Location != nil {
		cols["location"] = *p.Location
	}
	if p.Skills != nil {
		cols["skills"] = pq.StringArray(*p.Skills)
	}
	return cols
}

func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Price != nil {
		t.Price = *p.Price
	}
	if p.Location != nil {
		t.Location = *p.Location
	}
	if p.Skills != nil {
		t.Skills = append(pq.StringArray(nil), (*p.Skills)...)
	}
}

// TaskView is a task with its participants resolved.
type TaskView struct {
	ID          uuid.UUID    `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Price       float64      `json:"price"`
	Location    string       `json:"location"`
	Skills      []string     `json:"skills"`
	Status      TaskStatus   `json:"status"`
	Client      *UserBrief   `json:"client"`
	AssignedTo  *UserBrief   `json:"assignedTo"`
	Applicants  []*UserBrief `json:"applicants,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CompletedAt *time.Time   `json:"completedAt"`
}

// NewTaskView resolves participant references through users; unknown ids
// yield a brief carrying only the id.
func NewTaskView(t *Task, users map[uuid.UUID]*User, withApplicants bool) TaskView {
	brief := func(id uuid.UUID) *UserBrief {
		if u, ok := users[id]; ok {
			return u.Brief()
		}
		return &UserBrief{ID: id}
	}
	skills := []string(t.Skills)
	if skills == nil {
		skills = []string{}
	}
	v := TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Price:       t.Price,
		Location:    t.Location,
		Skills:      skills,
		Status:      t.Status,
		Client:      brief(t.ClientID),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.AssignedTo != nil {
		v.AssignedTo = brief(*t.AssignedTo)
	}
	if withApplicants {
		v.Applicants = []*UserBrief{}
		for _, id := range t.ApplicantIDs() {
			v.Applicants = append(v.Applicants, brief(id))
		}
	}
	return v
}

// ParticipantIDs lists every user referenced by the tasks.
func ParticipantIDs(tasks []Task, withApplicants bool) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for i := range tasks {
		add(tasks[i].ClientID)
		if tasks[i].AssignedTo != nil {
			add(*tasks[i].AssignedTo)
		}
		if withApplicants {
			for _, id := range tasks[i].ApplicantIDs() {
				add(id)
			}
		}
	}
	return out
}

type TaskFilter struct {
	Status     TaskStatus
	ClientID   *uuid.UUID
	AssignedTo *uuid.UUID
}

type Stats struct {
	TotalUsers     int64   `json:"totalUsers"`
	ActiveUsers    int64   `json:"activeUsers"`
	TotalTasks     int64   `json:"totalTasks"`
	OpenTasks      int64   `json:"openTasks"`
	AssignedTasks  int64   `json:"assignedTasks"`
	CompletedTasks int64   `json:"completedTasks"`
	CompletionRate float64 `json:"completionRate"`
}
