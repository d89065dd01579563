package http

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/goal-listener/internal/adapters/sounds"
)

// SoundHandler serves MP3 files to the speaker.
type SoundHandler struct {
	library *sounds.Library
	logger  *slog.Logger
}

func NewSoundHandler(library *sounds.Library, logger *slog.Logger) *SoundHandler {
	return &SoundHandler{library: library, logger: logger}
}

// Serve returns the handler for one library; the file name comes from :filename.
func (h *SoundHandler) Serve(library string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("filename")
		h.logger.Debug("serving sound", "library", library, "file", name)

		f, info, err := h.library.Open(library, name)
		if errors.Is(err, sounds.ErrSoundNotFound) {
			h.logger.Info("sound not found", "library", library, "file", name)
			return c.Status(fiber.StatusNotFound).SendString("File not found")
		}
		if err != nil {
			h.logger.Error("failed to open sound", "library", library, "file", name, "error", err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error serving file")
		}

		c.Type(filepath.Ext(name))
		return c.SendStream(f, int(info.Size()))
	}
}
