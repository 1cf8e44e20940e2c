package database

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// ParsePriority accepts any casing of Low, Medium or High
func ParsePriority(s string) (Priority, bool) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, true
		}
	}
	return "", false
}

// Board is a shared workspace. Lists are embedded, so any list change
// rewrites the whole sequence.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	Members   []string  `json:"members"`
	Lists     []List    `json:"lists"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Board) SetID(id string) { b.ID = id }

// HasMember reports whether userID may read and edit the board
func (b *Board) HasMember(userID string) bool {
	for _, m := range b.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// List looks up a list by id
func (b *Board) List(listID string) (List, bool) {
	for _, l := range b.Lists {
		if l.ID == listID {
			return l, true
		}
	}
	return List{}, false
}

type List struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	WIPLimit *int   `json:"wipLimit"` // nil means unbounded
	Index    int    `json:"index"`
}

// IsDone reports whether the list is the terminal "Done" column
func (l List) IsDone() bool {
	return strings.EqualFold(strings.TrimSpace(l.Title), "done")
}

type Card struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ListID       string     `json:"listId"`
	Index        int        `json:"index"`
	AssigneeID   string     `json:"assigneeId"`
	Priority     Priority   `json:"priority"`
	Labels       []string   `json:"labels"`
	DueDate      *time.Time `json:"dueDate"`
	BoardID      string     `json:"boardId"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	MigratedFrom string     `json:"migratedFrom,omitempty"`
}

func (c *Card) SetID(id string) { c.ID = id }

type Label struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Gradient string `json:"gradient"`
}

func (l *Label) SetID(id string) { l.ID = id }

type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserPhoto string    `json:"userPhoto,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Comment) SetID(id string) { c.ID = id }

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (u *User) SetID(id string) { u.ID = id }

const (
	NotificationBoardInvite    = "board_invite"
	NotificationTaskAssignment = "task_assignment"

	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteDeclined = "declined"
)

type Notification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data"`
	Read      bool              `json:"read"`
	Status    string            `json:"status,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (n *Notification) SetID(id string) { n.ID = id }

// LegacyBoard is the private per-user board layout that predates sharing
type LegacyBoard struct {
	Lists []List `json:"lists"`
}

func (b *LegacyBoard) SetID(string) {}

// DefaultLists seeds every new board
func DefaultLists() []List {
	todoLimit, progressLimit := 5, 3
	return []List{
		{ID: "list-1", Title: "To Do", WIPLimit: &todoLimit, Index: 0},
		{ID: "list-2", Title: "In Progress", WIPLimit: &progressLimit, Index: 1},
		{ID: "list-3", Title: "Done", WIPLimit: nil, Index: 2},
	}
}
