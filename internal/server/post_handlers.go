package server

import (
	"bilimshare/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePost handles POST /api/posts
// @Summary Publish a post
// @Description Teachers and admins only. A missing category falls back to the general one, a missing image to a placeholder.
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{title=string,body=string,category=string,image=string} true "Post"
// @Success 201 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req struct {
		Title    string `json:"title"`
		Body     string `json:"body"`
		Category string `json:"category"`
		Image    string `json:"image"`
	}
	if !parseBody(c, &req) {
		return nil
	}

	res := s.actions.CreatePost(c.UserContext(), callerFrom(c), service.CreatePostInput{
		Title:    req.Title,
		Body:     req.Body,
		Category: req.Category,
		Image:    req.Image,
	})
	return respondResult(c, res, fiber.StatusCreated, res.Entity)
}

// DeletePost handles DELETE /api/posts/:id
// @Summary Delete a post
// @Description Admin only. Without confirm=true the call answers 428 with the confirmation prompt.
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Param confirm query bool false "Confirm the deletion"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 428 {object} models.ErrorResponse
// @Router /posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	res := s.actions.DeletePost(c.UserContext(), callerFrom(c), c.Params("id"), c.QueryBool("confirm"))
	return respondResult(c, res, fiber.StatusOK, fiber.Map{"message": res.Message})
}

// DeleteComment handles DELETE /api/comments/:id
// @Summary Delete a comment
// @Description The author or an admin. Replies are removed with it.
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Comment ID"
// @Param confirm query bool false "Confirm the deletion"
// @Success 200 {object} object{message=string}
// @Router /comments/{id} [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	res := s.actions.DeleteComment(c.UserContext(), callerFrom(c), c.Params("id"), c.QueryBool("confirm"))
	return respondResult(c, res, fiber.StatusOK, fiber.Map{"message": res.Message})
}
