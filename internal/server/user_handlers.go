package server

import (
	"bilimshare/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListUsers handles GET /api/users
// @Summary List users
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Failure 403 {object} models.ErrorResponse
// @Router /users [get]
func (s *Server) ListUsers(c *fiber.Ctx) error {
	users, err := s.userRepo.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	if users == nil {
		users = []models.User{}
	}
	return c.JSON(users)
}

// ChangeRole handles PUT /api/users/:id/role
// @Summary Change a user's role
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param request body object{role=string} true "student, teacher or admin"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /users/{id}/role [put]
func (s *Server) ChangeRole(c *fiber.Ctx) error {
	var req struct {
		Role models.Role `json:"role"`
	}
	if !parseBody(c, &req) {
		return nil
	}

	res := s.actions.ChangeRole(c.UserContext(), callerFrom(c), c.Params("id"), req.Role)
	return respondResult(c, res, fiber.StatusOK, fiber.Map{"message": res.Message})
}

// DeleteUser handles DELETE /api/users/:id
// @Summary Delete a user
// @Description Admin only. Everything the user wrote is removed with the account.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param confirm query bool false "Confirm the deletion"
// @Success 200 {object} object{message=string}
// @Router /users/{id} [delete]
func (s *Server) DeleteUser(c *fiber.Ctx) error {
	res := s.actions.DeleteUser(c.UserContext(), callerFrom(c), c.Params("id"), c.QueryBool("confirm"))
	return respondResult(c, res, fiber.StatusOK, fiber.Map{"message": res.Message})
}
