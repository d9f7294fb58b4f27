package server

import (
	"bilimshare/internal/cache"
	"bilimshare/internal/feed"
	"bilimshare/internal/models"
	"bilimshare/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// GetFeed handles GET /api/feed
// @Summary Feed snapshot
// @Description Posts with authors, likes and threaded comments, plus category facets, popular posts and the leaderboard
// @Tags feed
// @Produce json
// @Param category query string false "Category filter"
// @Param user query string false "Only posts by this author"
// @Success 200 {object} FeedResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /feed [get]
func (s *Server) GetFeed(c *fiber.Ctx) error {
	snap, err := s.store.Load(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	category := c.Query("category")
	posts := feed.VisiblePosts(snap.View.Posts, category)
	if author := c.Query("user"); author != "" {
		posts = feed.PostsByAuthor(posts, author)
	}

	var viewerID string
	if caller := callerFrom(c); caller != nil {
		viewerID = caller.ID
	}
	return c.JSON(newFeedResponse(snap, posts, category, viewerID))
}

// GetUserProfile handles GET /api/users/:id
// @Summary User profile
// @Tags users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} ProfileResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id} [get]
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	var user models.User
	err := cache.Aside(ctx, cache.ProfileKey(id), &user, cache.ProfileTTL, func() error {
		u, err := s.userRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		user = *u
		return nil
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("User", id))
		}
		return respondError(c, err)
	}

	snap, err := s.store.Load(ctx)
	if err != nil {
		return respondError(c, err)
	}

	var viewerID string
	if caller := callerFrom(c); caller != nil {
		viewerID = caller.ID
	}

	return c.JSON(ProfileResponse{
		User:  &user,
		Stats: newStatsView(feed.StatsFor(snap.View, user)),
		Posts: newPostViews(snap.View, feed.PostsByAuthor(snap.View.Posts, user.ID), viewerID),
	})
}
