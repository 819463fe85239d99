package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/syncboard/syncboard/pkg/models"
)

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Postgres implements Store on a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings a PostgreSQL connection.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing connection, for tests.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

const profileColumns = "id, email, full_name, COALESCE(avatar_url, '')"

func scanProfile(row interface{ Scan(...any) error }) (models.Profile, error) {
	var p models.Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, err
	}
	return p, nil
}

func (s *Postgres) CreateUser(ctx context.Context, email, passwordHash, fullName string) (models.Profile, error) {
	if fullName == "" {
		fullName = email
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, email, password_hash, full_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+profileColumns,
		uuid.NewString(), email, passwordHash, fullName)
	profile, err := scanProfile(row)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.Profile{}, ErrDuplicateEmail
	}
	return profile, err
}

func (s *Postgres) Credentials(ctx context.Context, email string) (string, models.Profile, error) {
	var hash string
	var p models.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, `+profileColumns+` FROM profiles WHERE email = $1`,
		email).Scan(&hash, &p.ID, &p.Email, &p.FullName, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.Profile{}, ErrNotFound
	}
	if err != nil {
		return "", models.Profile{}, err
	}
	return hash, p, nil
}

func (s *Postgres) FetchProfile(ctx context.Context, userID string) (models.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	return scanProfile(row)
}

func (s *Postgres) UpdateProfile(ctx context.Context, userID string, updates ProfileUpdate) (models.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE profiles
		 SET full_name = COALESCE($2, full_name),
		     avatar_url = COALESCE($3, avatar_url)
		 WHERE id = $1
		 RETURNING `+profileColumns,
		userID, updates.FullName, updates.AvatarURL)
	return scanProfile(row)
}

func (s *Postgres) ProfileStats(ctx context.Context, userID string) (models.ProfileStats, error) {
	var stats models.ProfileStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM boards WHERE owner_id = $1),
		   (SELECT COUNT(*) FROM board_members WHERE user_id = $1 AND role <> 'owner')`,
		userID).Scan(&stats.OwnedBoards, &stats.JoinedBoards)
	return stats, err
}

func (s *Postgres) ListBoards(ctx context.Context, userID string) ([]models.BoardWithRole, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.name, COALESCE(b.description, ''), b.owner_id, b.created_at, b.updated_at,
		        COALESCE(m.role, ''),
		        (SELECT COUNT(*) FROM join_requests r
		          WHERE r.board_id = b.id AND r.status = 'pending' AND b.owner_id = $1),
		        EXISTS (SELECT 1 FROM join_requests r
		          WHERE r.board_id = b.id AND r.user_id = $1 AND r.status = 'pending')
		 FROM boards b
		 LEFT JOIN board_members m ON m.board_id = b.id AND m.user_id = $1
		 ORDER BY b.created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	boards := make([]models.BoardWithRole, 0)
	for rows.Next() {
		var b models.BoardWithRole
		var role string
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID,
			&b.CreatedAt, &b.UpdatedAt, &role, &b.PendingRequests, &b.HasPendingRequest); err != nil {
			return nil, err
		}
		b.Role = models.BoardRole(role)
		if b.Role != models.RoleOwner {
			b.PendingRequests = 0
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *Postgres) CreateBoard(ctx context.Context, ownerID, name, description string) (models.Board, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Board{}, err
	}
	defer tx.Rollback()

	var b models.Board
	err = tx.QueryRowContext(ctx,
		`INSERT INTO boards (id, name, description, owner_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, COALESCE(description, ''), owner_id, created_at, updated_at`,
		uuid.NewString(), name, description, ownerID).
		Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Board{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, 'owner')`,
		b.ID, ownerID); err != nil {
		return models.Board{}, err
	}
	return b, tx.Commit()
}

func (s *Postgres) boardOwner(ctx context.Context, boardID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM boards WHERE id = $1`, boardID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return ownerID, err
}

func (s *Postgres) UpdateBoard(ctx context.Context, boardID, userID string, updates BoardUpdate) (models.Board, error) {
	ownerID, err := s.boardOwner(ctx, boardID)
	if err != nil {
		return models.Board{}, err
	}
	if ownerID != userID {
		return models.Board{}, fmt.Errorf("%w: only the owner can update a board", ErrForbidden)
	}

	var b models.Board
	err = s.db.QueryRowContext(ctx,
		`UPDATE boards
		 SET name = COALESCE($2, name),
		     description = COALESCE($3, description),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, COALESCE(description, ''), owner_id, created_at, updated_at`,
		boardID, updates.Name, updates.Description).
		Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Board{}, ErrNotFound
	}
	return b, err
}

func (s *Postgres) DeleteBoard(ctx context.Context, boardID, userID string) error {
	ownerID, err := s.boardOwner(ctx, boardID)
	if err != nil {
		return err
	}
	if ownerID != userID {
		return fmt.Errorf("%w: only the owner can delete a board", ErrForbidden)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, boardID)
	return err
}

func (s *Postgres) RequestJoin(ctx context.Context, boardID, userID string) (models.JoinRequest, error) {
	var isMember bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM board_members WHERE board_id = $1 AND user_id = $2)`,
		boardID, userID).Scan(&isMember); err != nil {
		return models.JoinRequest{}, err
	}
	if isMember {
		return models.JoinRequest{}, ErrAlreadyMember
	}

	var pending bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM join_requests
		  WHERE board_id = $1 AND user_id = $2 AND status = 'pending')`,
		boardID, userID).Scan(&pending); err != nil {
		return models.JoinRequest{}, err
	}
	if pending {
		return models.JoinRequest{}, ErrRequestPending
	}

	var req models.JoinRequest
	var status string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO join_requests (id, board_id, user_id, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING id, board_id, user_id, status, created_at`,
		uuid.NewString(), boardID, userID).
		Scan(&req.ID, &req.BoardID, &req.UserID, &status, &req.CreatedAt)
	req.Status = models.JoinRequestStatus(status)
	return req, err
}

func (s *Postgres) requestForOwner(ctx context.Context, requestID, ownerID string) (boardID, userID string, err error) {
	var reqOwner string
	err = s.db.QueryRowContext(ctx,
		`SELECT r.board_id, r.user_id, b.owner_id
		 FROM join_requests r JOIN boards b ON b.id = r.board_id
		 WHERE r.id = $1 AND r.status = 'pending'`,
		requestID).Scan(&boardID, &userID, &reqOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	if reqOwner != ownerID {
		return "", "", fmt.Errorf("%w: only the owner can review join requests", ErrForbidden)
	}
	return boardID, userID, nil
}

func (s *Postgres) ApproveJoin(ctx context.Context, requestID, ownerID string) error {
	boardID, userID, err := s.requestForOwner(ctx, requestID, ownerID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, 'member')
		 ON CONFLICT DO NOTHING`,
		boardID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE join_requests SET status = 'approved' WHERE id = $1`, requestID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Postgres) RejectJoin(ctx context.Context, requestID, ownerID string) error {
	if _, _, err := s.requestForOwner(ctx, requestID, ownerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE join_requests SET status = 'rejected' WHERE id = $1`, requestID)
	return err
}

func (s *Postgres) ListJoinRequests(ctx context.Context, boardID, ownerID string) ([]models.JoinRequest, error) {
	owner, err := s.boardOwner(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if owner != ownerID {
		return nil, fmt.Errorf("%w: only the owner can view join requests", ErrForbidden)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.board_id, r.user_id, r.status, r.created_at,
		        p.id, p.email, p.full_name, COALESCE(p.avatar_url, '')
		 FROM join_requests r
		 JOIN profiles p ON p.id = r.user_id
		 WHERE r.board_id = $1 AND r.status = 'pending'
		 ORDER BY r.created_at`,
		boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]models.JoinRequest, 0)
	for rows.Next() {
		var req models.JoinRequest
		var status string
		var p models.Profile
		if err := rows.Scan(&req.ID, &req.BoardID, &req.UserID, &status, &req.CreatedAt,
			&p.ID, &p.Email, &p.FullName, &p.AvatarURL); err != nil {
			return nil, err
		}
		req.Status = models.JoinRequestStatus(status)
		req.Profile = &p
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (s *Postgres) LeaveBoard(ctx context.Context, boardID, userID string) error {
	ownerID, err := s.boardOwner(ctx, boardID)
	if err != nil {
		return err
	}
	if ownerID == userID {
		return ErrOwnerCannotLeave
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM board_members WHERE board_id = $1 AND user_id = $2`, boardID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id, board_id, title, COALESCE(description, ''), status,
	COALESCE(assigned_to, ''), created_by, position, version, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (models.Task, error) {
	var t models.Task
	var status string
	err := row.Scan(&t.ID, &t.BoardID, &t.Title, &t.Description, &status,
		&t.AssignedTo, &t.CreatedBy, &t.Position, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, ErrNotFound
	}
	t.Status = models.TaskStatus(status)
	return t, err
}

func (s *Postgres) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Postgres) Tasks(ctx context.Context, boardID string) ([]models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE board_id = $1 ORDER BY position, created_at`,
		boardID)
}

func (s *Postgres) SearchTasks(ctx context.Context, boardID, query string) ([]models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE board_id = $1 AND (title ILIKE $2 OR description ILIKE $2)
		 ORDER BY position, created_at`,
		boardID, "%"+query+"%")
}

func (s *Postgres) CreateTask(ctx context.Context, boardID, title, description string, status models.TaskStatus, creatorID string) (models.Task, error) {
	if !models.ValidTaskStatus(status) {
		return models.Task{}, fmt.Errorf("invalid task status %q", status)
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO tasks (id, board_id, title, description, status, created_by, position)
		 VALUES ($1, $2, $3, $4, $5, $6,
		   (SELECT COALESCE(MAX(position), 0) + 1 FROM tasks WHERE board_id = $2 AND status = $5))
		 RETURNING `+taskColumns,
		uuid.NewString(), boardID, title, description, string(status), creatorID)
	return scanTask(row)
}

// UpdateTask applies the update only when the stored version still matches
// currentVersion, bumping the version on success. A mismatch means another
// client edited the task first; the caller gets ErrVersionConflict and must
// refetch.
func (s *Postgres) UpdateTask(ctx context.Context, taskID string, updates TaskUpdate, currentVersion int) (models.Task, error) {
	var statusArg *string
	if updates.Status != nil {
		if !models.ValidTaskStatus(*updates.Status) {
			return models.Task{}, fmt.Errorf("invalid task status %q", *updates.Status)
		}
		v := string(*updates.Status)
		statusArg = &v
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE tasks
		 SET title = COALESCE($3, title),
		     description = COALESCE($4, description),
		     status = COALESCE($5, status),
		     assigned_to = COALESCE($6, assigned_to),
		     position = COALESCE($7, position),
		     version = version + 1,
		     updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING `+taskColumns,
		taskID, currentVersion, updates.Title, updates.Description, statusArg,
		updates.AssignedTo, updates.Position)
	task, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing task from a lost version race.
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, taskID).Scan(&exists); checkErr == nil && exists {
			return models.Task{}, ErrVersionConflict
		}
		return models.Task{}, ErrNotFound
	}
	return task, err
}

func (s *Postgres) DeleteTask(ctx context.Context, taskID string) (string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tasks WHERE id = $1 RETURNING board_id`, taskID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return boardID, err
}

func (s *Postgres) MoveTasks(ctx context.Context, moves []TaskMove) error {
	if len(moves) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, move := range moves {
		if !models.ValidTaskStatus(move.Status) {
			return fmt.Errorf("invalid task status %q", move.Status)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks
			 SET status = $2, position = $3, version = version + 1, updated_at = now()
			 WHERE id = $1`,
			move.ID, string(move.Status), move.Position); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Postgres) Comments(ctx context.Context, taskID string) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.task_id, c.user_id, c.content, c.created_at,
		        p.id, p.email, p.full_name, COALESCE(p.avatar_url, '')
		 FROM comments c
		 JOIN profiles p ON p.id = c.user_id
		 WHERE c.task_id = $1
		 ORDER BY c.created_at`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]models.Comment, 0)
	for rows.Next() {
		var c models.Comment
		var p models.Profile
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt,
			&p.ID, &p.Email, &p.FullName, &p.AvatarURL); err != nil {
			return nil, err
		}
		c.Profile = &p
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Postgres) CreateComment(ctx context.Context, taskID, userID, content string) (models.Comment, string, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx,
		`SELECT board_id FROM tasks WHERE id = $1`, taskID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Comment{}, "", ErrNotFound
	}
	if err != nil {
		return models.Comment{}, "", err
	}

	var c models.Comment
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO comments (id, task_id, user_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, task_id, user_id, content, created_at`,
		uuid.NewString(), taskID, userID, content).
		Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt)
	return c, boardID, err
}

func (s *Postgres) DeleteComment(ctx context.Context, commentID, userID string) (string, string, error) {
	var taskID, boardID, authorID string
	err := s.db.QueryRowContext(ctx,
		`SELECT c.task_id, t.board_id, c.user_id
		 FROM comments c JOIN tasks t ON t.id = c.task_id
		 WHERE c.id = $1`,
		commentID).Scan(&taskID, &boardID, &authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	if authorID != userID {
		return "", "", fmt.Errorf("%w: only the author can delete a comment", ErrForbidden)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID); err != nil {
		return "", "", err
	}
	return taskID, boardID, nil
}

var _ Store = (*Postgres)(nil)
