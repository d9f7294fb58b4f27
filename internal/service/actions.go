// Package service implements the interaction handlers: each validates its
// preconditions, issues the store mutation and triggers a full state refresh.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bilimshare/internal/feed"
	"bilimshare/internal/middleware"
	"bilimshare/internal/models"
	"bilimshare/internal/observability"
	"bilimshare/internal/repository"
	"bilimshare/internal/state"

	"github.com/google/uuid"
)

// User-facing messages.
const (
	MsgLoginRequired      = "Кіру қажет"
	MsgLikeLoginRequired  = "Лайк басу үшін кіріңіз"
	MsgPublishForbidden   = "Тек мұғалімдер мен админ жариялай алады"
	MsgTitleBodyRequired  = "Тақырып пен мәтін қажет"
	MsgAdminDeleteOnly    = "Тек админ жоя алады"
	MsgAdminRoleOnly      = "Тек админ өзгерте алады"
	MsgAuthorOrAdminOnly  = "Тек автор немесе админ өшіре алады"
	MsgEmptyComment       = "Пікір бос"
	MsgPostIDRequired     = "post_id қажет"
	MsgUnknownRole        = "Белгісіз рөл"
	MsgReplyOtherPost     = "Жауап басқа постқа жатады"
	MsgConfirmDeletePost  = "Постты жоюға сенімдісіз бе?"
	MsgConfirmDeleteCmt   = "Пікірді жоюға сенімдісіз бе?"
	MsgConfirmDeleteUser  = "Пайдаланушыны жоюға сенімдісіз бе?"
	MessageLiked          = "liked"
	MessageUnliked        = "unliked"
	defaultActionTimeout  = 10 * time.Second
	picsumImageURLPattern = "https://picsum.photos/seed/%s/1200/800"
)

// Caller is the user on whose behalf an action runs. A nil Caller or an
// empty ID is anonymous.
type Caller struct {
	ID   string
	Role models.Role
}

func (c *Caller) authenticated() bool {
	return c != nil && c.ID != ""
}

func (c *Caller) isAdmin() bool {
	return c.authenticated() && c.Role == models.RoleAdmin
}

// Result is the outcome of an action. Fault is set exactly when OK is false.
type Result struct {
	OK      bool
	Entity  any
	Message string
	Fault   *models.AppError
}

// Dispatcher runs the state update cycle after a successful mutation.
type Dispatcher interface {
	Dispatch(ctx context.Context, t state.Transition) (*feed.Snapshot, error)
}

// ActionsInput wires the dependencies of Actions.
type ActionsInput struct {
	Users    repository.UserRepository
	Posts    repository.PostRepository
	Comments repository.CommentRepository
	Likes    repository.LikeRepository
	State    Dispatcher
	Timeout  time.Duration
	// ImageURL generates the image of posts created without one.
	ImageURL func() string
}

// Actions implements the interaction handlers.
type Actions struct {
	users    repository.UserRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	likes    repository.LikeRepository
	state    Dispatcher
	timeout  time.Duration
	imageURL func() string
}

// NewActions creates Actions. Zero values get sensible defaults.
func NewActions(in ActionsInput) *Actions {
	a := &Actions{
		users:    in.Users,
		posts:    in.Posts,
		comments: in.Comments,
		likes:    in.Likes,
		state:    in.State,
		timeout:  in.Timeout,
		imageURL: in.ImageURL,
	}
	if a.timeout <= 0 {
		a.timeout = defaultActionTimeout
	}
	if a.imageURL == nil {
		a.imageURL = RandomImageURL
	}
	return a
}

// RandomImageURL returns a placeholder image URL with a random seed.
func RandomImageURL() string {
	seed := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf(picsumImageURLPattern, seed)
}

// CreatePostInput holds the fields of a new post.
type CreatePostInput struct {
	Title    string
	Body     string
	Category string
	Image    string
}

// CreatePost publishes a post. Only teachers and admins may publish.
func (a *Actions) CreatePost(ctx context.Context, caller *Caller, in CreatePostInput) Result {
	const action = "create_post"
	if !caller.authenticated() {
		return a.fail(ctx, action, models.NewUnauthorizedError(MsgLoginRequired))
	}
	if !caller.Role.CanPublish() {
		return a.fail(ctx, action, models.NewForbiddenError(MsgPublishForbidden))
	}
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	if title == "" || body == "" {
		return a.fail(ctx, action, models.NewValidationError(MsgTitleBodyRequired))
	}

	post := &models.Post{
		Title:    title,
		Body:     body,
		Category: strings.TrimSpace(in.Category),
		Image:    strings.TrimSpace(in.Image),
		AuthorID: caller.ID,
	}
	if post.Category == "" {
		post.Category = models.GeneralCategory
	}
	if post.Image == "" {
		post.Image = a.imageURL()
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		if err := a.posts.Create(ctx, post); err != nil {
			return Result{}, nil, err
		}
		return Result{Entity: post, Message: "created"},
			[]state.EntityKey{{Kind: state.KindPost, ID: post.ID}}, nil
	})
}

// DeletePost removes a post together with its comments and likes.
func (a *Actions) DeletePost(ctx context.Context, caller *Caller, postID string, confirmed bool) Result {
	const action = "delete_post"
	if !caller.isAdmin() {
		return a.fail(ctx, action, models.NewForbiddenError(MsgAdminDeleteOnly))
	}
	if !confirmed {
		return a.fail(ctx, action, models.NewConfirmationRequiredError(MsgConfirmDeletePost))
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		if err := a.posts.Delete(ctx, postID); err != nil {
			return Result{}, nil, notFoundAs(err, "Post", postID)
		}
		return Result{Message: "deleted"},
			[]state.EntityKey{{Kind: state.KindPost, ID: postID}}, nil
	})
}

// ToggleLike removes the caller's like on a post, or adds one when absent.
// The check and the write are separate calls; a concurrent duplicate insert
// is rejected by the unique index and reported as CONFLICT.
func (a *Actions) ToggleLike(ctx context.Context, caller *Caller, postID string) Result {
	const action = "toggle_like"
	if !caller.authenticated() {
		return a.fail(ctx, action, models.NewUnauthorizedError(MsgLikeLoginRequired))
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return a.fail(ctx, action, models.NewValidationError(MsgPostIDRequired))
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		keys := []state.EntityKey{{Kind: state.KindLike, ID: postID}}
		existing, err := a.likes.Find(ctx, postID, caller.ID)
		if err != nil {
			return Result{}, nil, err
		}
		if existing != nil {
			if err := a.likes.Delete(ctx, existing.ID); err != nil {
				return Result{}, nil, err
			}
			return Result{Message: MessageUnliked}, keys, nil
		}

		like := &models.Like{PostID: postID, UserID: caller.ID}
		if err := a.likes.Create(ctx, like); err != nil {
			return Result{}, nil, err
		}
		return Result{Entity: like, Message: MessageLiked}, keys, nil
	})
}

// AddCommentInput holds a new comment. ParentID makes it a reply.
type AddCommentInput struct {
	PostID   string
	Text     string
	ParentID string
}

// AddComment stores a comment or a reply on a post.
func (a *Actions) AddComment(ctx context.Context, caller *Caller, in AddCommentInput) Result {
	const action = "add_comment"
	if !caller.authenticated() {
		return a.fail(ctx, action, models.NewUnauthorizedError(MsgLoginRequired))
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return a.fail(ctx, action, models.NewValidationError(MsgEmptyComment))
	}
	if strings.TrimSpace(in.PostID) == "" {
		return a.fail(ctx, action, models.NewValidationError(MsgPostIDRequired))
	}

	comment := &models.Comment{Text: text, PostID: strings.TrimSpace(in.PostID), AuthorID: caller.ID}
	if parentID := strings.TrimSpace(in.ParentID); parentID != "" {
		comment.ParentID = &parentID
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		if comment.ParentID != nil {
			parent, err := a.comments.GetByID(ctx, *comment.ParentID)
			if err != nil {
				return Result{}, nil, notFoundAs(err, "Comment", *comment.ParentID)
			}
			if parent.PostID != comment.PostID {
				return Result{}, nil, models.NewValidationError(MsgReplyOtherPost)
			}
		}
		if err := a.comments.Create(ctx, comment); err != nil {
			return Result{}, nil, err
		}
		return Result{Entity: comment, Message: "created"}, []state.EntityKey{
			{Kind: state.KindComment, ID: comment.ID},
			{Kind: state.KindPost, ID: comment.PostID},
		}, nil
	})
}

// DeleteComment removes a comment and its replies. Only the author or an
// admin may delete.
func (a *Actions) DeleteComment(ctx context.Context, caller *Caller, commentID string, confirmed bool) Result {
	const action = "delete_comment"
	if !caller.authenticated() {
		return a.fail(ctx, action, models.NewUnauthorizedError(MsgLoginRequired))
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		comment, err := a.comments.GetByID(ctx, commentID)
		if err != nil {
			return Result{}, nil, notFoundAs(err, "Comment", commentID)
		}
		if caller.Role != models.RoleAdmin && caller.ID != comment.AuthorID {
			return Result{}, nil, models.NewForbiddenError(MsgAuthorOrAdminOnly)
		}
		if !confirmed {
			return Result{}, nil, models.NewConfirmationRequiredError(MsgConfirmDeleteCmt)
		}
		if err := a.comments.Delete(ctx, commentID); err != nil {
			return Result{}, nil, notFoundAs(err, "Comment", commentID)
		}
		return Result{Message: "deleted"}, []state.EntityKey{
			{Kind: state.KindComment, ID: commentID},
			{Kind: state.KindPost, ID: comment.PostID},
		}, nil
	})
}

// ChangeRole sets the role of a user. Setting the current role again succeeds.
func (a *Actions) ChangeRole(ctx context.Context, caller *Caller, userID string, role models.Role) Result {
	const action = "change_role"
	if !caller.isAdmin() {
		return a.fail(ctx, action, models.NewForbiddenError(MsgAdminRoleOnly))
	}
	if !role.Valid() {
		return a.fail(ctx, action, models.NewValidationError(MsgUnknownRole))
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		if err := a.users.UpdateRole(ctx, userID, role); err != nil {
			return Result{}, nil, notFoundAs(err, "User", userID)
		}
		return Result{Message: "updated"},
			[]state.EntityKey{{Kind: state.KindUser, ID: userID}}, nil
	})
}

// DeleteUser removes an account with everything it authored.
func (a *Actions) DeleteUser(ctx context.Context, caller *Caller, userID string, confirmed bool) Result {
	const action = "delete_user"
	if !caller.isAdmin() {
		return a.fail(ctx, action, models.NewForbiddenError(MsgAdminDeleteOnly))
	}
	if !confirmed {
		return a.fail(ctx, action, models.NewConfirmationRequiredError(MsgConfirmDeleteUser))
	}

	return a.run(ctx, action, func(ctx context.Context) (Result, []state.EntityKey, error) {
		// The cascade removes likes on other posts too; collect them first so
		// their counters are invalidated.
		postIDs, err := a.likes.PostIDsTouchedBy(ctx, userID)
		if err != nil {
			return Result{}, nil, err
		}
		if err := a.users.Delete(ctx, userID); err != nil {
			return Result{}, nil, notFoundAs(err, "User", userID)
		}
		keys := []state.EntityKey{{Kind: state.KindUser, ID: userID}}
		for _, id := range postIDs {
			keys = append(keys, state.EntityKey{Kind: state.KindLike, ID: id})
		}
		return Result{Message: "deleted"}, keys, nil
	})
}

// run executes mutate under the action deadline and, on success, dispatches
// a transition. A failed refresh is logged; the mutation already happened
// and the result stays successful.
func (a *Actions) run(ctx context.Context, action string, mutate func(context.Context) (Result, []state.EntityKey, error)) Result {
	mctx, cancel := context.WithTimeout(ctx, a.timeout)
	res, keys, err := mutate(mctx)
	cancel()
	if err != nil {
		return a.fail(ctx, action, repository.ToAppError(err))
	}

	if a.state != nil {
		if _, err := a.state.Dispatch(ctx, state.Transition{Reason: action, Keys: keys}); err != nil {
			middleware.Logger.ErrorContext(ctx, "State refresh after action failed",
				"action", action, "error", err)
		}
	}

	res.OK = true
	observability.ActionsTotal.WithLabelValues(action, "OK").Inc()
	return res
}

func (a *Actions) fail(ctx context.Context, action string, fault *models.AppError) Result {
	observability.ActionsTotal.WithLabelValues(action, fault.Code).Inc()
	switch fault.Code {
	case models.CodeStore, models.CodeUnavailable, models.CodeTimeout, models.CodeInternal:
		middleware.Logger.ErrorContext(ctx, "Action failed", "action", action, "code", fault.Code, "error", fault)
	default:
		middleware.Logger.InfoContext(ctx, "Action rejected", "action", action, "code", fault.Code, "reason", fault.Message)
	}
	return Result{Message: fault.Message, Fault: fault}
}

func notFoundAs(err error, resource, id string) error {
	if repository.IsNotFound(err) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}
