package trip

import (
	"backend-triptrack/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(apperr.StatusCode(err)).JSON(apperr.ResponseBody(err))
}

func actorID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Trip
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.CreatorID = actorID(c)
		if req.Name == "" || req.CreatorID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name and creator required")
		}
		trip, err := svc.Create(c.Context(), req)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(trip)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		trips, err := svc.List(c.Context(), actorID(c), c.QueryInt("page", 1), c.QueryInt("limit", 10))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(trips)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		trip, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(trip)
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		var req Trip
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		trip, err := svc.Update(c.Context(), c.Params("id"), actorID(c), req)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(trip)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.Context(), c.Params("id"), actorID(c)); err != nil {
			return errorResponse(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/start", authMiddleware, func(c *fiber.Ctx) error {
		trip, err := svc.Start(c.Context(), c.Params("id"), actorID(c))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(trip)
	})

	r.Post("/:id/end", authMiddleware, func(c *fiber.Ctx) error {
		trip, err := svc.End(c.Context(), c.Params("id"), actorID(c))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(trip)
	})

	r.Get("/:id/leaderboard", func(c *fiber.Ctx) error {
		entries, err := svc.Leaderboard(c.Context(), c.Params("id"))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(entries)
	})
}
