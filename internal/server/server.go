package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"rocketcrash/internal/cache"
	"rocketcrash/internal/database"
	"rocketcrash/internal/game"
	"rocketcrash/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db     database.Service
	cache  cache.Service
	ledger *ledger.Service
	engine *game.Engine
	hub    *game.Hub
	rounds *cache.RoundCache
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for round snapshots and crash history")
	}
	roundCache := cache.NewRoundCache(redisService.GetClient())

	hub := game.NewHub()
	ledgerService := ledger.NewService(db.Pool(), ledger.ConfigFromEnv())
	engine := game.NewEngine(hub, ledgerService, roundCache, game.ConfigFromEnv())
	ledgerService.SetLiveSource(engine)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "rocketcrash",
			AppName:       "rocketcrash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:     db,
		cache:  redisService,
		ledger: ledgerService,
		engine: engine,
		hub:    hub,
		rounds: roundCache,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	engine.Start()

	log.Println("[SERVER] Round engine started")

	return server
}

// Shutdown stops the round engine and closes connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
