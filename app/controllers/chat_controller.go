package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/catalog"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ollama"
)

// ModelServer is the part of the Ollama client the chat routes use.
type ModelServer interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	Tags(ctx context.Context) ([]string, error)
	Pull(ctx context.Context, name string) error
	PullStream(ctx context.Context, name string, fn func(ollama.PullProgress) error) error
}

type ChatController struct {
	server  ModelServer
	catalog *catalog.Catalog
	baseURL string
}

func NewChatController(server ModelServer, c *catalog.Catalog, baseURL string) *ChatController {
	return &ChatController{server: server, catalog: c, baseURL: baseURL}
}

// HandleChat forwards a prompt to the model server. Missing models and an
// unreachable server are answered with an explanatory chat message.
func (h *ChatController) HandleChat(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Request body must be JSON")
	}
	if err := req.Validate(); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	if req.Model == "" {
		req.Model = h.catalog.FreeModelID()
	}
	backend := h.catalog.BackendModel(req.Model)

	// Generation can take minutes on CPU; the client applies its own limit.
	answer, err := h.server.Generate(c.UserContext(), backend, req.Message)
	var statusErr *ollama.StatusError
	switch {
	case err == nil:
	case errors.Is(err, ollama.ErrModelNotFound):
		answer = fmt.Sprintf("Model '%s' is not installed on the model server.\n\nTo download it run:\n  ollama pull %s", backend, backend)
	case errors.Is(err, ollama.ErrUnreachable):
		answer = fmt.Sprintf("Cannot connect to the model server at %s.\n\nMake sure Ollama is running.", h.baseURL)
	case errors.As(err, &statusErr):
		log.Errorf("[Chat] Model server error for %s: %v", backend, err)
		return jsonError(c, statusErr.StatusCode, "model_server_error", "Model server error")
	default:
		log.Errorf("[Chat] Generate failed for %s: %v", backend, err)
		answer = fmt.Sprintf("Error: %v\n\nThe backend is working but the model server request failed.", err)
	}

	return c.JSON(models.ChatResponse{Response: answer, Model: req.Model})
}

func (h *ChatController) HandleListModels(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	installed, err := h.server.Tags(ctx)
	if err != nil {
		return c.JSON(fiber.Map{"installed": []string{}, "count": 0, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"installed": installed, "count": len(installed)})
}

func (h *ChatController) HandleModelStatus(c *fiber.Ctx) error {
	model := pathParam(c, "model")
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	installed, err := h.server.Tags(ctx)
	if err != nil {
		return c.JSON(fiber.Map{"model": model, "installed": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"model":         model,
		"installed":     ollama.IsInstalled(installed, model),
		"all_installed": installed,
	})
}

// HandleInstallModel pulls a model. With ?stream=true the pull progress is
// relayed as newline-delimited JSON.
func (h *ChatController) HandleInstallModel(c *fiber.Ctx) error {
	var req models.InstallRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Request body must be JSON")
	}
	if err := req.Validate(); err != nil || !ollama.ValidModelName(req.Model) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_model_name", "Invalid model name")
	}

	if c.QueryBool("stream", false) {
		return h.streamPull(c, req.Model)
	}

	err := h.server.Pull(c.UserContext(), req.Model)
	var statusErr *ollama.StatusError
	switch {
	case err == nil:
		log.Infof("[Chat] Installed model %s", req.Model)
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": fmt.Sprintf("Model %s installation started", req.Model),
			"model":   req.Model,
		})
	case errors.Is(err, ollama.ErrUnreachable):
		return jsonError(c, fiber.StatusServiceUnavailable, "model_server_unreachable", fmt.Sprintf("Cannot connect to the model server at %s", h.baseURL))
	case errors.Is(err, ollama.ErrModelNotFound):
		return jsonError(c, fiber.StatusNotFound, "model_not_found", fmt.Sprintf("Model %s does not exist", req.Model))
	case errors.As(err, &statusErr):
		return jsonError(c, statusErr.StatusCode, "pull_failed", "Model pull failed: "+statusErr.Body)
	default:
		log.Errorf("[Chat] Pull %s failed: %v", req.Model, err)
		return jsonError(c, fiber.StatusInternalServerError, "pull_failed", err.Error())
	}
}

func (h *ChatController) streamPull(c *fiber.Ctx, model string) error {
	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	// The stream writer runs after the handler returns, so it cannot use the
	// request context.
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		enc := json.NewEncoder(w)
		err := h.server.PullStream(context.Background(), model, func(p ollama.PullProgress) error {
			if err := enc.Encode(p); err != nil {
				return err
			}
			return w.Flush()
		})
		if err != nil {
			log.Warnf("[Chat] Streaming pull %s failed: %v", model, err)
			_ = enc.Encode(ollama.PullProgress{Status: "error", Error: err.Error()})
		} else {
			log.Infof("[Chat] Installed model %s", model)
		}
		_ = w.Flush()
	})
	return nil
}

