// Package store persists the domain entities (profiles, boards, tasks,
// comments) behind a narrow interface. Presence state is deliberately not
// stored here: it lives only in server memory.
package store

import (
	"context"
	"errors"

	"github.com/syncboard/syncboard/pkg/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrForbidden        = errors.New("not allowed")
	ErrAlreadyMember    = errors.New("already a member")
	ErrRequestPending   = errors.New("join request already pending")
	ErrOwnerCannotLeave = errors.New("owner cannot leave board, delete it instead")
	ErrVersionConflict  = errors.New("task was modified by another user")
)

// ProfileUpdate applies only the fields that are non-nil.
type ProfileUpdate struct {
	FullName  *string
	AvatarURL *string
}

// BoardUpdate applies only the fields that are non-nil.
type BoardUpdate struct {
	Name        *string
	Description *string
}

// TaskUpdate applies only the fields that are non-nil. Every successful
// update bumps the task's version counter.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *models.TaskStatus
	AssignedTo  *string
	Position    *int
}

// TaskMove repositions one task inside a batch drag-and-drop move.
type TaskMove struct {
	ID       string            `json:"id"`
	Status   models.TaskStatus `json:"status"`
	Position int               `json:"position"`
}

// Store is the domain persistence surface the router depends on. The
// presence core treats all of this as opaque request/response calls.
type Store interface {
	// Users and profiles.
	CreateUser(ctx context.Context, email, passwordHash, fullName string) (models.Profile, error)
	Credentials(ctx context.Context, email string) (passwordHash string, profile models.Profile, err error)
	FetchProfile(ctx context.Context, userID string) (models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, updates ProfileUpdate) (models.Profile, error)
	ProfileStats(ctx context.Context, userID string) (models.ProfileStats, error)

	// Boards and membership.
	ListBoards(ctx context.Context, userID string) ([]models.BoardWithRole, error)
	CreateBoard(ctx context.Context, ownerID, name, description string) (models.Board, error)
	UpdateBoard(ctx context.Context, boardID, userID string, updates BoardUpdate) (models.Board, error)
	DeleteBoard(ctx context.Context, boardID, userID string) error
	RequestJoin(ctx context.Context, boardID, userID string) (models.JoinRequest, error)
	ApproveJoin(ctx context.Context, requestID, ownerID string) error
	RejectJoin(ctx context.Context, requestID, ownerID string) error
	ListJoinRequests(ctx context.Context, boardID, ownerID string) ([]models.JoinRequest, error)
	LeaveBoard(ctx context.Context, boardID, userID string) error

	// Tasks.
	Tasks(ctx context.Context, boardID string) ([]models.Task, error)
	SearchTasks(ctx context.Context, boardID, query string) ([]models.Task, error)
	CreateTask(ctx context.Context, boardID, title, description string, status models.TaskStatus, creatorID string) (models.Task, error)
	UpdateTask(ctx context.Context, taskID string, updates TaskUpdate, currentVersion int) (models.Task, error)
	DeleteTask(ctx context.Context, taskID string) (boardID string, err error)
	MoveTasks(ctx context.Context, moves []TaskMove) error

	// Comments.
	Comments(ctx context.Context, taskID string) ([]models.Comment, error)
	CreateComment(ctx context.Context, taskID, userID, content string) (models.Comment, string, error)
	DeleteComment(ctx context.Context, commentID, userID string) (taskID, boardID string, err error)

	Close() error
}
