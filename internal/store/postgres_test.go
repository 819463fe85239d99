package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/syncboard/syncboard/pkg/models"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPostgresFromDB(db), mock
}

func profileRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "full_name", "avatar_url"})
}

func taskRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "board_id", "title", "description", "status",
		"assigned_to", "created_by", "position", "version", "created_at", "updated_at",
	})
}

func TestFetchProfile(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT id, email, full_name, .+ FROM profiles WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(profileRows().AddRow("u1", "a@example.com", "Alice", ""))

	p, err := s.FetchProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.FullName != "Alice" {
		t.Errorf("profile = %+v", p)
	}
}

func TestFetchProfileNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT id, email, full_name, .+ FROM profiles WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.FetchProfile(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO profiles`).
		WithArgs(sqlmock.AnyArg(), "a@example.com", "hash", "Alice").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "profiles_email_key"})

	_, err := s.CreateUser(context.Background(), "a@example.com", "hash", "Alice")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestCredentialsNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT password_hash, .+ FROM profiles WHERE email = \$1`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	if _, _, err := s.Credentials(context.Background(), "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateBoardTransaction(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO boards`).
		WithArgs(sqlmock.AnyArg(), "Sprint", "planning", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "owner_id", "created_at", "updated_at"}).
			AddRow("b1", "Sprint", "planning", "u1", now, now))
	mock.ExpectExec(`INSERT INTO board_members`).
		WithArgs("b1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	board, err := s.CreateBoard(context.Background(), "u1", "Sprint", "planning")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if board.ID != "b1" || board.OwnerID != "u1" {
		t.Errorf("board = %+v", board)
	}
}

func TestUpdateBoardForbiddenForNonOwner(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT owner_id FROM boards WHERE id = \$1`).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("someone-else"))

	name := "renamed"
	_, err := s.UpdateBoard(context.Background(), "b1", "u1", BoardUpdate{Name: &name})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestLeaveBoardOwnerRefused(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT owner_id FROM boards WHERE id = \$1`).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("u1"))

	if err := s.LeaveBoard(context.Background(), "b1", "u1"); !errors.Is(err, ErrOwnerCannotLeave) {
		t.Errorf("err = %v, want ErrOwnerCannotLeave", err)
	}
}

func TestRequestJoinAlreadyMember(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM board_members`).
		WithArgs("b1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if _, err := s.RequestJoin(context.Background(), "b1", "u1"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("err = %v, want ErrAlreadyMember", err)
	}
}

func TestRequestJoinPendingDuplicate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM board_members`).
		WithArgs("b1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM join_requests`).
		WithArgs("b1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if _, err := s.RequestJoin(context.Background(), "b1", "u1"); !errors.Is(err, ErrRequestPending) {
		t.Errorf("err = %v, want ErrRequestPending", err)
	}
}

func TestUpdateTaskVersionConflict(t *testing.T) {
	s, mock := newMock(t)
	title := "edited"

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs("t1", 3, "edited", nil, nil, nil, nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM tasks WHERE id = \$1\)`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.UpdateTask(context.Background(), "t1", TaskUpdate{Title: &title}, 3)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", err)
	}
}

func TestUpdateTaskMissing(t *testing.T) {
	s, mock := newMock(t)
	title := "edited"

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs("ghost", 1, "edited", nil, nil, nil, nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM tasks WHERE id = \$1\)`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.UpdateTask(context.Background(), "ghost", TaskUpdate{Title: &title}, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskSuccessBumpsVersion(t *testing.T) {
	s, mock := newMock(t)
	title := "edited"
	now := time.Now()

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs("t1", 3, "edited", nil, nil, nil, nil).
		WillReturnRows(taskRows().
			AddRow("t1", "b1", "edited", "", "todo", "", "u1", 1, 4, now, now))

	task, err := s.UpdateTask(context.Background(), "t1", TaskUpdate{Title: &title}, 3)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Version != 4 || task.Title != "edited" {
		t.Errorf("task = %+v", task)
	}
}

func TestCreateTaskRejectsBadStatus(t *testing.T) {
	s, _ := newMock(t)

	_, err := s.CreateTask(context.Background(), "b1", "Title", "", models.TaskStatus("bogus"), "u1")
	if err == nil {
		t.Error("invalid status accepted")
	}
}

func TestMoveTasksRunsInTransaction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tasks`).
		WithArgs("t1", "in_progress", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tasks`).
		WithArgs("t2", "in_progress", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.MoveTasks(context.Background(), []TaskMove{
		{ID: "t1", Status: models.StatusInProgress, Position: 0},
		{ID: "t2", Status: models.StatusInProgress, Position: 1},
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
}

func TestDeleteCommentOnlyAuthor(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT c.task_id, t.board_id, c.user_id`).
		WithArgs("cm1").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "board_id", "user_id"}).
			AddRow("t1", "b1", "author"))

	_, _, err := s.DeleteComment(context.Background(), "cm1", "intruder")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestDeleteTaskReturnsBoard(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`DELETE FROM tasks WHERE id = \$1 RETURNING board_id`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"board_id"}).AddRow("b1"))

	boardID, err := s.DeleteTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if boardID != "b1" {
		t.Errorf("boardID = %q", boardID)
	}
}
