package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/datastore/internal/server"
)

// RegisterDiagnosticsRoutes 暴露 /-/healthz 与 /-/stores 诊断接口。
func RegisterDiagnosticsRoutes(app *fiber.App, registry server.Resolver) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/stores", func(c fiber.Ctx) error {
		names := registry.Names()
		payload := make([]storePayload, 0, len(names))
		for _, name := range names {
			store, ok := registry.Lookup(name)
			if !ok {
				continue
			}
			payload = append(payload, storePayload{
				Name:       name,
				Root:       store.Root(),
				StagingDir: store.StagingDir(),
			})
		}
		return c.JSON(fiber.Map{"stores": payload})
	})
}

type storePayload struct {
	Name       string `json:"name"`
	Root       string `json:"root"`
	StagingDir string `json:"staging_dir"`
}
