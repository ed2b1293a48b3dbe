package server

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/datastore/internal/cache"
	"github.com/any-hub/datastore/internal/locator"
	"github.com/any-hub/datastore/internal/logging"
	"github.com/any-hub/datastore/internal/registry"
)

// Resolver 是路由依赖的解析能力，测试中可替换。
type Resolver interface {
	Names() []string
	Lookup(name string) (*cache.Store, bool)
	Resolve(ctx context.Context, store string, loc locator.Locator) (string, error)
	ResolveURL(ctx context.Context, raw string) (string, error)
}

var _ Resolver = (*registry.Registry)(nil)

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger   *logrus.Logger
	Registry Resolver
	// ResolveTimeout 限制单个请求的解析时长，0 表示跟随客户端连接。
	ResolveTimeout time.Duration
}

const contextKeyRequestID = "_datastore_request_id"

// NewApp builds a Fiber application with request-id middleware, panic recovery
// and the resolve/file routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handlers{registry: opts.Registry, logger: opts.Logger, timeout: opts.ResolveTimeout}
	app.Get("/resolve", h.resolve)
	app.Get("/files/:store/:group/:name/:version", h.file)

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在请求结束后输出一条访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		path := string(c.Request().URI().Path())
		if !isDiagnosticsPath(path) {
			logger.WithFields(logging.RequestFields(reqID, c.Method(), path, c.Response().StatusCode())).
				WithField("duration_ms", time.Since(started).Milliseconds()).
				Info("request")
		}
		return err
	}
}

type handlers struct {
	registry Resolver
	logger   *logrus.Logger
	timeout  time.Duration
}

func (h *handlers) resolve(c fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		return renderError(c, fiber.StatusBadRequest, "url_required")
	}
	if _, err := locator.ParseURL(raw); err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_datastore_url")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()
	path, err := h.registry.ResolveURL(ctx, raw)
	if err != nil {
		return h.renderResolveError(c, raw, err)
	}
	return c.JSON(fiber.Map{"url": raw, "path": path})
}

func (h *handlers) file(c fiber.Ctx) error {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 0 {
		return renderError(c, fiber.StatusBadRequest, "invalid_version")
	}
	storeName := c.Params("store")
	loc := locator.File(c.Params("group"), c.Params("name"), version)

	ctx, cancel := h.requestContext(c)
	defer cancel()
	path, err := h.registry.Resolve(ctx, storeName, loc)
	if err != nil {
		return h.renderResolveError(c, loc.String(), err)
	}

	f, err := os.Open(path)
	if err != nil {
		return h.renderResolveError(c, loc.String(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return h.renderResolveError(c, loc.String(), err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set("X-Datastore-Path", path)
	return c.SendStream(f, int(info.Size()))
}

func (h *handlers) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := c.Context()
	if h.timeout > 0 {
		return context.WithTimeout(ctx, h.timeout)
	}
	return context.WithCancel(ctx)
}

func (h *handlers) renderResolveError(c fiber.Ctx, target string, err error) error {
	status, code := classify(err)
	h.logger.WithFields(logrus.Fields{
		"action":     "resolve",
		"request_id": RequestID(c),
		"target":     target,
		"error":      err.Error(),
	}).Warn("resolve failed")
	return renderError(c, status, code)
}

// classify 把解析错误映射为 HTTP 状态码与错误码。
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrDoesNotExist):
		return fiber.StatusNotFound, "does_not_exist"
	case errors.Is(err, registry.ErrUnknownStore):
		return fiber.StatusNotFound, "unknown_store"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "resolve_timeout"
	default:
		return fiber.StatusBadGateway, "resolve_failed"
	}
}

func renderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": code,
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
