package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/syncboard/syncboard/internal/auth"
	"github.com/syncboard/syncboard/internal/observability"
	"github.com/syncboard/syncboard/internal/presence"
	"github.com/syncboard/syncboard/internal/registry"
	"github.com/syncboard/syncboard/internal/store"
	"github.com/syncboard/syncboard/pkg/models"
)

// Well-known presence contexts. Any other context string is accepted as-is;
// its updates are broadcast to all authenticated connections and clients
// self-filter on the context fields.
const (
	ContextApp   = "app"
	ContextBoard = "board"
)

// Router decodes inbound request envelopes, authenticates, dispatches to the
// matching domain operation, applies presence side effects, triggers fanout,
// and replies to the requester.
type Router struct {
	registry   *registry.Registry
	presence   *presence.Registry
	dispatcher *Dispatcher
	store      store.Store
	auth       *auth.Service
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func NewRouter(reg *registry.Registry, pres *presence.Registry, disp *Dispatcher, st store.Store, authSvc *auth.Service, logger *slog.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:   reg,
		presence:   pres,
		dispatcher: disp,
		store:      st,
		auth:       authSvc,
		logger:     logger,
		metrics:    metrics,
	}
}

// Handle processes one inbound request end to end and sends the correlated
// response. Domain errors never propagate past this method: they become
// {success:false, error} responses on the requesting connection only.
func (r *Router) Handle(ctx context.Context, connID string, req models.Request) {
	start := time.Now()
	r.registry.Touch(connID)

	user, authed := r.authenticate(connID, req.Token)

	result, err := r.dispatch(ctx, connID, user, authed, req)
	status := "ok"
	if err != nil {
		status = "error"
		r.logger.Debug("request failed", "conn_id", connID, "type", req.Type, "error", err)
		r.dispatcher.ToConnection(connID, models.Response{
			ID:      req.ID,
			Success: false,
			Error:   err.Error(),
		})
	} else {
		// Presence side effects fire only for actions that actually
		// happened; an error above skips them entirely.
		if authed && isGenericAction(req.Type) {
			r.touchActivity(connID)
		}
		r.dispatcher.ToConnection(connID, models.Response{
			ID:      req.ID,
			Success: true,
			Data:    result,
		})
	}

	if r.metrics != nil {
		r.metrics.MessagesTotal.WithLabelValues(req.Type, status).Inc()
		r.metrics.RequestDuration.WithLabelValues(req.Type).Observe(time.Since(start).Seconds())
	}
}

// HandleDisconnect retires every membership the connection held and
// broadcasts one updated snapshot per affected context. Called on transport
// close, before the connection leaves the registry.
func (r *Router) HandleDisconnect(connID string) {
	for _, cs := range r.presence.ForceRemoveAll(connID) {
		r.broadcastPresence(cs.Context, cs.ContextID, cs.Users, "")
	}
}

// authenticate verifies the request token and, on the first authenticated
// request of a connection, attaches the user and implicitly joins the app
// context. This is the single entry point for the Anonymous -> Authenticated
// transition: page-reload reconnects are handled here without any explicit
// rejoin message from the client.
func (r *Router) authenticate(connID, token string) (models.User, bool) {
	user, err := r.auth.Verify(token)
	if err != nil {
		return models.User{}, false
	}

	conn, ok := r.registry.Get(connID)
	if ok && conn.User == nil {
		r.registry.AttachUser(connID, user)
		users, _ := r.presence.Join(connID, user, ContextApp, "", nil)
		r.broadcastPresence(ContextApp, "", users, "")
		r.logger.Info("user attached to connection", "conn_id", connID, "user_id", user.ID)
		if r.metrics != nil {
			_, authed := r.registry.Counts()
			r.metrics.ConnectionsAuthenticated.Set(float64(authed))
		}
	}
	return user, true
}

func (r *Router) dispatch(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	switch req.Type {
	// Auth.
	case "auth:signin":
		return r.handleSignIn(ctx, connID, req)
	case "auth:signup":
		return r.handleSignUp(ctx, req)
	case "auth:verify":
		if !authed {
			return nil, auth.ErrNotAuthenticated
		}
		return map[string]any{"user": user}, nil

	// Presence.
	case "presence:fetch":
		return r.handlePresenceFetch(req)
	case "presence:join":
		return r.handlePresenceJoin(connID, user, authed, req)
	case "presence:update":
		return r.handlePresenceUpdate(connID, authed, req)
	case "presence:leave":
		return r.handlePresenceLeave(connID, authed, req)

	// Boards.
	case "board:list":
		if !authed {
			return nil, auth.ErrNotAuthenticated
		}
		boards, err := r.store.ListBoards(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"boards": boards}, nil
	case "board:create":
		return r.handleBoardCreate(ctx, connID, user, authed, req)
	case "board:update":
		return r.handleBoardUpdate(ctx, connID, user, authed, req)
	case "board:delete":
		return r.handleBoardDelete(ctx, connID, user, authed, req)
	case "board:request_join":
		return r.handleRequestJoin(ctx, connID, user, authed, req)
	case "board:approve_join":
		return r.handleReviewJoin(ctx, connID, user, authed, req, true)
	case "board:reject_join":
		return r.handleReviewJoin(ctx, connID, user, authed, req, false)
	case "board:list_requests":
		return r.handleListRequests(ctx, user, authed, req)
	case "board:leave_membership":
		return r.handleLeaveMembership(ctx, connID, user, authed, req)

	// Tasks.
	case "task:fetch":
		return r.handleTaskFetch(ctx, req)
	case "task:search":
		return r.handleTaskSearch(ctx, req)
	case "task:create":
		return r.handleTaskCreate(ctx, connID, user, authed, req)
	case "task:update":
		return r.handleTaskUpdate(ctx, connID, authed, req)
	case "task:delete":
		return r.handleTaskDelete(ctx, connID, authed, req)
	case "task:move":
		return r.handleTaskMove(ctx, connID, authed, req)

	// Comments.
	case "comment:fetch":
		return r.handleCommentFetch(ctx, req)
	case "comment:create":
		return r.handleCommentCreate(ctx, connID, user, authed, req)
	case "comment:delete":
		return r.handleCommentDelete(ctx, connID, user, authed, req)

	// Profile.
	case "profile:get":
		if !authed {
			return nil, auth.ErrNotAuthenticated
		}
		profile, err := r.store.FetchProfile(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"profile": profile}, nil
	case "profile:update":
		return r.handleProfileUpdate(ctx, user, authed, req)
	case "profile:stats":
		if !authed {
			return nil, auth.ErrNotAuthenticated
		}
		stats, err := r.store.ProfileStats(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"stats": stats}, nil

	default:
		return nil, fmt.Errorf("unknown type: %s", req.Type)
	}
}

// ---- auth handlers ----

type signInParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

func (r *Router) handleSignIn(ctx context.Context, connID string, req models.Request) (any, error) {
	var p signInParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	user, token, err := r.auth.SignIn(ctx, p.Email, p.Password)
	if err != nil {
		return nil, err
	}

	r.registry.AttachUser(connID, user)
	users, _ := r.presence.Join(connID, user, ContextApp, "", nil)
	r.broadcastPresence(ContextApp, "", users, "")
	if r.metrics != nil {
		_, authed := r.registry.Counts()
		r.metrics.ConnectionsAuthenticated.Set(float64(authed))
	}

	return map[string]any{"user": user, "token": token}, nil
}

func (r *Router) handleSignUp(ctx context.Context, req models.Request) (any, error) {
	var p signUpParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	user, token, err := r.auth.SignUp(ctx, p.Email, p.Password, p.FullName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": user, "token": token}, nil
}

// ---- presence handlers ----

type presenceParams struct {
	Context   string         `json:"context"`
	ContextID string         `json:"contextId"`
	EventData map[string]any `json:"eventData"`
}

func (p presenceParams) validate() error {
	if strings.TrimSpace(p.Context) == "" {
		return errors.New("context is required")
	}
	return nil
}

func (r *Router) handlePresenceFetch(req models.Request) (any, error) {
	var p presenceParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return map[string]any{"users": r.presence.Snapshot(p.Context, p.ContextID)}, nil
}

func (r *Router) handlePresenceJoin(connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p presenceParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	users, superseded := r.presence.Join(connID, user, p.Context, p.ContextID, p.EventData)

	// Board-room membership is derived from presence: joining the board
	// context is what puts the connection in the board's fanout set. A
	// superseded connection loses its seat in the room along with its
	// presence entry, otherwise it would keep receiving board broadcasts.
	if p.Context == ContextBoard {
		if superseded != "" {
			if old, ok := r.registry.Get(superseded); ok && old.BoardID == p.ContextID {
				r.registry.SetBoard(superseded, "")
			}
		}
		r.registry.SetBoard(connID, p.ContextID)
	}

	r.broadcastPresence(p.Context, p.ContextID, users, "")
	return map[string]any{"users": users}, nil
}

func (r *Router) handlePresenceUpdate(connID string, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p presenceParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	// A missing entry is not an error: the client may have raced a sweep.
	if r.presence.Update(connID, p.Context, p.ContextID, p.EventData) {
		r.broadcastPresence(p.Context, p.ContextID, r.presence.Snapshot(p.Context, p.ContextID), "")
	}
	return map[string]any{"message": "Presence updated"}, nil
}

func (r *Router) handlePresenceLeave(connID string, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p presenceParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	if users, ok := r.presence.Leave(connID, p.Context, p.ContextID); ok {
		if p.Context == ContextBoard {
			if conn, found := r.registry.Get(connID); found && conn.BoardID == p.ContextID {
				r.registry.SetBoard(connID, "")
			}
		}
		r.broadcastPresence(p.Context, p.ContextID, users, "")
	}
	return map[string]any{"message": "Left presence context"}, nil
}

// ---- board handlers ----

type boardCreateParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type boardUpdateParams struct {
	BoardID string `json:"boardId"`
	Updates struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	} `json:"updates"`
}

type boardIDParams struct {
	BoardID string `json:"boardId"`
}

type requestIDParams struct {
	RequestID string `json:"requestId"`
}

func (r *Router) handleBoardCreate(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p boardCreateParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("board name is required")
	}
	board, err := r.store.CreateBoard(ctx, user.ID, p.Name, p.Description)
	if err != nil {
		return nil, err
	}
	// Everyone sees the new board in their list, creator included.
	r.dispatcher.ToAll(models.Broadcast{Type: "boards:invalidate", Data: map[string]any{}}, "")
	return map[string]any{"board": board}, nil
}

func (r *Router) handleBoardUpdate(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p boardUpdateParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	board, err := r.store.UpdateBoard(ctx, p.BoardID, user.ID, store.BoardUpdate{
		Name:        p.Updates.Name,
		Description: p.Updates.Description,
	})
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToAll(models.Broadcast{Type: "boards:invalidate", Data: map[string]any{}}, "")
	return map[string]any{"board": board}, nil
}

func (r *Router) handleBoardDelete(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p boardIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := r.store.DeleteBoard(ctx, p.BoardID, user.ID); err != nil {
		return nil, err
	}
	r.dispatcher.ToAll(models.Broadcast{Type: "boards:invalidate", Data: map[string]any{}}, "")
	return map[string]any{"message": "Board deleted"}, nil
}

func (r *Router) handleRequestJoin(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p boardIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	request, err := r.store.RequestJoin(ctx, p.BoardID, user.ID)
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToAll(models.Broadcast{Type: "boards:invalidate", Data: map[string]any{}}, "")
	return map[string]any{"request": request}, nil
}

func (r *Router) handleReviewJoin(ctx context.Context, connID string, user models.User, authed bool, req models.Request, approve bool) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p requestIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	var err error
	message := "Request rejected"
	if approve {
		err = r.store.ApproveJoin(ctx, p.RequestID, user.ID)
		message = "Request approved"
	} else {
		err = r.store.RejectJoin(ctx, p.RequestID, user.ID)
	}
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToAll(models.Broadcast{Type: "boards:invalidate", Data: map[string]any{}}, "")
	return map[string]any{"message": message}, nil
}

func (r *Router) handleListRequests(ctx context.Context, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p boardIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	requests, err := r.store.ListJoinRequests(ctx, p.BoardID, user.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"requests": requests}, nil
}

func (r *Router) handleLeaveMembership(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p boardIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := r.store.LeaveBoard(ctx, p.BoardID, user.ID); err != nil {
		return nil, err
	}
	r.dispatcher.ToAll(models.Broadcast{Type: "boards:invalidate", Data: map[string]any{}}, "")
	return map[string]any{"message": "Left board"}, nil
}

// ---- task handlers ----

type taskCreateParams struct {
	BoardID     string            `json:"board_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      models.TaskStatus `json:"status"`
}

type taskUpdateParams struct {
	TaskID  string `json:"taskId"`
	BoardID string `json:"boardId"`
	Updates struct {
		Title       *string            `json:"title"`
		Description *string            `json:"description"`
		Status      *models.TaskStatus `json:"status"`
		AssignedTo  *string            `json:"assigned_to"`
		Position    *int               `json:"position"`
	} `json:"updates"`
	CurrentVersion int `json:"currentVersion"`
}

type taskIDParams struct {
	TaskID string `json:"taskId"`
}

type taskSearchParams struct {
	BoardID string `json:"boardId"`
	Query   string `json:"query"`
}

type taskMoveParams struct {
	BoardID string           `json:"boardId"`
	Tasks   []store.TaskMove `json:"tasks"`
}

func (r *Router) handleTaskFetch(ctx context.Context, req models.Request) (any, error) {
	var p boardIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	tasks, err := r.store.Tasks(ctx, p.BoardID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasks}, nil
}

func (r *Router) handleTaskSearch(ctx context.Context, req models.Request) (any, error) {
	var p taskSearchParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	tasks, err := r.store.SearchTasks(ctx, p.BoardID, p.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasks}, nil
}

func (r *Router) handleTaskCreate(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p taskCreateParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if p.Status == "" {
		p.Status = models.StatusTodo
	}
	task, err := r.store.CreateTask(ctx, p.BoardID, p.Title, p.Description, p.Status, user.ID)
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToBoard(models.Broadcast{
		Type: "task:created",
		Data: map[string]any{"task": task, "boardId": p.BoardID},
	}, p.BoardID, connID)
	return map[string]any{"task": task}, nil
}

func (r *Router) handleTaskUpdate(ctx context.Context, connID string, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p taskUpdateParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	task, err := r.store.UpdateTask(ctx, p.TaskID, store.TaskUpdate{
		Title:       p.Updates.Title,
		Description: p.Updates.Description,
		Status:      p.Updates.Status,
		AssignedTo:  p.Updates.AssignedTo,
		Position:    p.Updates.Position,
	}, p.CurrentVersion)
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToBoard(models.Broadcast{
		Type: "task:updated",
		Data: map[string]any{"task": task, "boardId": task.BoardID},
	}, task.BoardID, connID)
	return map[string]any{"task": task}, nil
}

func (r *Router) handleTaskDelete(ctx context.Context, connID string, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p taskIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	boardID, err := r.store.DeleteTask(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToBoard(models.Broadcast{
		Type: "task:deleted",
		Data: map[string]any{"taskId": p.TaskID, "boardId": boardID},
	}, boardID, connID)
	return map[string]any{"message": "Task deleted"}, nil
}

func (r *Router) handleTaskMove(ctx context.Context, connID string, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p taskMoveParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if err := r.store.MoveTasks(ctx, p.Tasks); err != nil {
		return nil, err
	}
	r.dispatcher.ToBoard(models.Broadcast{
		Type: "tasks:moved",
		Data: map[string]any{"tasks": p.Tasks, "boardId": p.BoardID},
	}, p.BoardID, connID)
	return map[string]any{"tasks": p.Tasks}, nil
}

// ---- comment handlers ----

type commentCreateParams struct {
	TaskID  string `json:"taskId"`
	Content string `json:"content"`
}

type commentIDParams struct {
	CommentID string `json:"commentId"`
}

func (r *Router) handleCommentFetch(ctx context.Context, req models.Request) (any, error) {
	var p taskIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	comments, err := r.store.Comments(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"comments": comments}, nil
}

func (r *Router) handleCommentCreate(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p commentCreateParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, errors.New("comment content is required")
	}
	comment, boardID, err := r.store.CreateComment(ctx, p.TaskID, user.ID, p.Content)
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToBoard(models.Broadcast{
		Type: "comment:created",
		Data: map[string]any{"comment": comment, "taskId": p.TaskID, "boardId": boardID},
	}, boardID, connID)
	return map[string]any{"comment": comment}, nil
}

func (r *Router) handleCommentDelete(ctx context.Context, connID string, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p commentIDParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	taskID, boardID, err := r.store.DeleteComment(ctx, p.CommentID, user.ID)
	if err != nil {
		return nil, err
	}
	r.dispatcher.ToBoard(models.Broadcast{
		Type: "comment:deleted",
		Data: map[string]any{"commentId": p.CommentID, "taskId": taskID, "boardId": boardID},
	}, boardID, connID)
	return map[string]any{"message": "Comment deleted"}, nil
}

// ---- profile handlers ----

type profileUpdateParams struct {
	Updates struct {
		FullName  *string `json:"full_name"`
		AvatarURL *string `json:"avatar_url"`
	} `json:"updates"`
}

func (r *Router) handleProfileUpdate(ctx context.Context, user models.User, authed bool, req models.Request) (any, error) {
	if !authed {
		return nil, auth.ErrNotAuthenticated
	}
	var p profileUpdateParams
	if err := bind(req, &p); err != nil {
		return nil, err
	}
	profile, err := r.store.UpdateProfile(ctx, user.ID, store.ProfileUpdate{
		FullName:  p.Updates.FullName,
		AvatarURL: p.Updates.AvatarURL,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"profile": profile}, nil
}

// ---- presence side effects ----

// touchActivity bumps lastActivity for the app context and, when the
// connection is in a board room, for that board. A re-broadcast goes out
// only on the idle->active transition, so steady activity stays quiet.
func (r *Router) touchActivity(connID string) {
	if r.presence.TouchActivity(connID, ContextApp, "") {
		r.broadcastPresence(ContextApp, "", r.presence.Snapshot(ContextApp, ""), "")
	}
	conn, ok := r.registry.Get(connID)
	if !ok || conn.BoardID == "" {
		return
	}
	if r.presence.TouchActivity(connID, ContextBoard, conn.BoardID) {
		r.broadcastPresence(ContextBoard, conn.BoardID, r.presence.Snapshot(ContextBoard, conn.BoardID), "")
	}
}

type presenceUpdatedData struct {
	Context   string                    `json:"context"`
	ContextID *string                   `json:"contextId"`
	Users     []models.PresenceSnapshot `json:"users"`
}

// broadcastPresence routes a presence:updated snapshot to the right audience:
// board contexts go to the board room; the app context and any custom context
// go to all authenticated connections, and clients self-filter on the context
// fields. Custom contexts deliberately do not get their own fanout index.
func (r *Router) broadcastPresence(contextName, contextID string, users []models.PresenceSnapshot, excludeConnID string) {
	data := presenceUpdatedData{
		Context: contextName,
		Users:   users,
	}
	if contextID != "" {
		data.ContextID = &contextID
	}
	msg := models.Broadcast{Type: "presence:updated", Data: data}
	if contextName == ContextBoard {
		r.dispatcher.ToBoard(msg, contextID, excludeConnID)
		return
	}
	r.dispatcher.ToAll(msg, excludeConnID)
}

// isGenericAction reports whether a request type counts as substantive user
// activity. Auth and presence traffic is excluded: heartbeats must not flip
// the idle indicator back to active.
func isGenericAction(reqType string) bool {
	return !strings.HasPrefix(reqType, "auth:") && !strings.HasPrefix(reqType, "presence:")
}

func bind(req models.Request, v any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("missing payload for %s", req.Type)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", req.Type, err)
	}
	return nil
}
