package server

import (
	"bilimshare/internal/cache"
	"bilimshare/internal/models"
	"bilimshare/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetPosts handles GET /api/posts
// @Summary List posts
// @Description Every post, newest first, with the author name and like rows embedded
// @Tags compat
// @Produce json
// @Success 200 {array} CompatPost
// @Failure 400 {object} models.ErrorResponse
// @Router /posts [get]
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postRepo.ListWithRelations(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	out := make([]CompatPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, newCompatPost(p))
	}
	return c.JSON(out)
}

// GetLikesCount handles GET /api/likes/:postId
// @Summary Like count of a post
// @Tags compat
// @Produce json
// @Param postId path string true "Post ID"
// @Success 200 {object} object{likes=int}
// @Router /likes/{postId} [get]
func (s *Server) GetLikesCount(c *fiber.Ctx) error {
	ctx := c.UserContext()
	postID := c.Params("postId")

	var count int64
	err := cache.Aside(ctx, cache.LikesCountKey(postID), &count, cache.LikesCountTTL, func() error {
		n, err := s.likeRepo.CountByPost(ctx, postID)
		count = n
		return err
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"likes": count})
}

// ToggleLike handles POST /api/like
// @Summary Toggle a like
// @Description Removes the user's like on the post, or adds one when absent
// @Tags compat
// @Accept json
// @Produce json
// @Param request body object{user_id=string,post_id=string} true "Like request"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /like [post]
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
		PostID string `json:"post_id"`
	}
	if !parseBody(c, &req) {
		return nil
	}
	if req.UserID == "" || req.PostID == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("user_id and post_id required"))
	}

	caller, err := s.compatCaller(c, req.UserID)
	if err != nil {
		return respondError(c, err)
	}

	res := s.actions.ToggleLike(c.UserContext(), caller, req.PostID)
	return respondResult(c, res, fiber.StatusOK, fiber.Map{"message": res.Message})
}

// AddComment handles POST /api/comments
// @Summary Add a comment or a reply
// @Tags compat
// @Accept json
// @Produce json
// @Param request body object{text=string,post_id=string,author=string,parent_id=string} true "Comment"
// @Success 200 {array} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /comments [post]
func (s *Server) AddComment(c *fiber.Ctx) error {
	var req struct {
		Text     string `json:"text"`
		PostID   string `json:"post_id"`
		Author   string `json:"author"`
		ParentID string `json:"parent_id"`
	}
	if !parseBody(c, &req) {
		return nil
	}

	caller, err := s.compatCaller(c, req.Author)
	if err != nil {
		return respondError(c, err)
	}

	res := s.actions.AddComment(c.UserContext(), caller, service.AddCommentInput{
		PostID:   req.PostID,
		Text:     req.Text,
		ParentID: req.ParentID,
	})
	if !res.OK {
		return respondResult(c, res, 0, nil)
	}
	return c.JSON([]*models.Comment{res.Entity.(*models.Comment)})
}

// compatCaller identifies the actor of a legacy request, which names the
// user in its body. A signed-in caller may only act as themselves.
func (s *Server) compatCaller(c *fiber.Ctx, bodyUserID string) (*service.Caller, error) {
	if caller := callerFrom(c); caller != nil {
		if bodyUserID != "" && bodyUserID != caller.ID {
			return nil, models.NewForbiddenError("user does not match the session")
		}
		return caller, nil
	}
	if bodyUserID == "" {
		return nil, nil
	}

	user, err := s.userRepo.GetByID(c.UserContext(), bodyUserID)
	if err != nil {
		// Unknown users still reach the store, which rejects the write.
		return &service.Caller{ID: bodyUserID}, nil
	}
	return &service.Caller{ID: user.ID, Role: user.Role}, nil
}
