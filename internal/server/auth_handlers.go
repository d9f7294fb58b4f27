package server

import (
	"bilimshare/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Signup handles POST /api/signup
// @Summary User signup
// @Description Register a student account and open a session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string,name=string} true "Signup request"
// @Success 200 {object} service.Session
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !parseBody(c, &req) {
		return nil
	}

	session, err := s.auth.Signup(c.UserContext(), service.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// Login handles POST /api/login
// @Summary User login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Login request"
// @Success 200 {object} service.Session
// @Failure 401 {object} models.ErrorResponse
// @Router /login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !parseBody(c, &req) {
		return nil
	}

	session, err := s.auth.Login(c.UserContext(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// GetMe handles GET /api/me
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} models.ErrorResponse
// @Router /me [get]
func (s *Server) GetMe(c *fiber.Ctx) error {
	return c.JSON(userFrom(c))
}
