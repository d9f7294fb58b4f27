package server

import (
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
)

// SetupStatic serves the SPA bundle from StaticDir. Paths without a file fall
// back to index.html so client-side routes survive a reload.
func (s *Server) SetupStatic(app *fiber.App) {
	dir := s.config.StaticDir
	if dir == "" {
		return
	}

	app.Static("/", dir, fiber.Static{Compress: true})

	index := filepath.Join(dir, "index.html")
	app.Get("/*", func(c *fiber.Ctx) error {
		if _, err := os.Stat(index); err != nil {
			return fiber.ErrNotFound
		}
		return c.SendFile(index)
	})
}
