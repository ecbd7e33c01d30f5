package server

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/shopspring/decimal"

	"rocketcrash/internal/fair"
	"rocketcrash/internal/game"
	"rocketcrash/internal/ledger"
)

const wsRequestTimeout = 5 * time.Second

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.gameStateHandler)
	api.Get("/game/history", s.gameHistoryHandler)
	api.Get("/game/verify", s.verifyHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.takeProfitHandler)

	api.Post("/user", s.createAccountHandler)
	api.Get("/user/:userId/balance", s.getBalanceHandler)
	api.Post("/user/:userId/deposit", s.depositHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

type placeBetRequest struct {
	UserID  int64   `json:"user_id"`
	RoundID int64   `json:"round_id"`
	Amount  float64 `json:"amount"`
}

type takeProfitRequest struct {
	BetID      int64   `json:"bet_id"`
	Multiplier float64 `json:"multiplier"`
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"game": fiber.Map{
			"phase":             s.engine.State().Phase,
			"connected_clients": s.hub.GetClientCount(),
		},
	})
}

// gameStateHandler returns the public snapshot of the in-flight round.
func (s *FiberServer) gameStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.engine.State())
}

// gameHistoryHandler returns recent revealed crashes, newest first.
func (s *FiberServer) gameHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	records, err := s.rounds.History(c.Context(), limit)
	if err != nil {
		log.Printf("[SERVER] Crash history read failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal_error",
		})
	}
	return c.JSON(fiber.Map{"history": records})
}

// verifyHandler lets anyone replay the chain from a revealed hash: it
// returns the multiplier that hash commits to and the next chained hash.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	hash := c.Query("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "hash query parameter is required",
		})
	}

	multiplier, err := fair.DeriveMultiplier(hash)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "not a valid commitment hash",
		})
	}

	resp := fiber.Map{
		"hash":       hash,
		"multiplier": multiplier,
		"next_hash":  fair.NextHash(hash),
	}
	if claimed := c.Query("multiplier"); claimed != "" {
		value, err := strconv.ParseFloat(claimed, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "multiplier must be a number",
			})
		}
		resp["verified"] = fair.VerifyRound(hash, value)
	}
	return c.JSON(resp)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	bet, err := s.ledger.PlaceBet(c.Context(), req.UserID, req.RoundID, req.Amount)
	if err != nil {
		return s.rejectJSON(c, err)
	}

	s.hub.Broadcast(game.Event{Type: game.EventBetAccepted, Data: bet})
	return c.JSON(bet)
}

func (s *FiberServer) takeProfitHandler(c *fiber.Ctx) error {
	var req takeProfitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.BetID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "bet_id is required",
		})
	}

	bet, err := s.ledger.TakeProfit(c.Context(), req.BetID, req.Multiplier)
	if err != nil {
		return s.rejectJSON(c, err)
	}

	s.hub.Broadcast(game.Event{Type: game.EventProfitAccepted, Data: fiber.Map{
		"bet":        bet,
		"multiplier": req.Multiplier,
	}})
	return c.JSON(fiber.Map{
		"bet":        bet,
		"multiplier": req.Multiplier,
	})
}

func (s *FiberServer) createAccountHandler(c *fiber.Ctx) error {
	var req struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	account, err := s.ledger.CreateAccount(c.Context(), decimal.NewFromFloat(req.Balance))
	if err != nil {
		return s.rejectJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user id must be a number",
		})
	}

	balance, err := s.ledger.GetBalance(c.Context(), userID)
	if err != nil {
		return s.rejectJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user id must be a number",
		})
	}

	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	balance, err := s.ledger.Deposit(c.Context(), userID, decimal.NewFromFloat(req.Amount))
	if err != nil {
		return s.rejectJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// rejectJSON writes a rejection with its stable code. Store failures stay
// generic; everything else carries its specific reason.
func (s *FiberServer) rejectJSON(c *fiber.Ctx, err error) error {
	code := ledger.ErrorCode(err)
	message := err.Error()
	if !ledger.IsRejection(err) {
		log.Printf("[SERVER] Internal error: %v", err)
		message = "internal error"
	}
	return c.Status(rejectionStatus(code)).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

func rejectionStatus(code string) int {
	switch code {
	case "round_not_found", "bet_not_found", "account_not_found":
		return fiber.StatusNotFound
	case "duplicate_bet", "already_profited", "round_not_active":
		return fiber.StatusConflict
	case "internal_error":
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadRequest
	}
}

// gameWebSocketHandler serves the realtime connection: pushes the current
// state on connect, then handles place_bet/cashout/ping messages until the
// client goes away. Engine broadcasts arrive through the hub.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID, _ := strconv.ParseInt(conn.Query("user_id"), 10, 64)

	client := s.hub.RegisterClient(conn, conn.Query("user_id", "anonymous"))
	defer s.hub.UnregisterClient(conn)

	client.Send(game.Event{Type: game.EventInitialState, Data: s.engine.State()})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg struct {
			Type       string  `json:"type"`
			RoundID    int64   `json:"round_id"`
			Amount     float64 `json:"amount"`
			BetID      int64   `json:"bet_id"`
			Multiplier float64 `json:"multiplier"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			s.handleWSBet(client, userID, msg.RoundID, msg.Amount)
		case "cashout":
			s.handleWSCashout(client, msg.BetID, msg.Multiplier)
		case "ping":
			client.Send(fiber.Map{"type": "pong"})
		}
	}
}

func (s *FiberServer) handleWSBet(client *game.Client, userID, roundID int64, amount float64) {
	ctx, cancel := context.WithTimeout(context.Background(), wsRequestTimeout)
	defer cancel()

	if userID == 0 {
		client.Send(game.Event{Type: game.EventBetRejected, Data: game.RejectedPayload{
			Code:    "unauthenticated",
			Message: "connect with a user_id to place bets",
		}})
		return
	}

	bet, err := s.ledger.PlaceBet(ctx, userID, roundID, amount)
	if err != nil {
		client.Send(game.Event{Type: game.EventBetRejected, Data: rejectedPayload(err)})
		return
	}
	s.hub.Broadcast(game.Event{Type: game.EventBetAccepted, Data: bet})
}

func (s *FiberServer) handleWSCashout(client *game.Client, betID int64, multiplier float64) {
	ctx, cancel := context.WithTimeout(context.Background(), wsRequestTimeout)
	defer cancel()

	bet, err := s.ledger.TakeProfit(ctx, betID, multiplier)
	if err != nil {
		client.Send(game.Event{Type: game.EventProfitRejected, Data: rejectedPayload(err)})
		return
	}
	s.hub.Broadcast(game.Event{Type: game.EventProfitAccepted, Data: fiber.Map{
		"bet":        bet,
		"multiplier": multiplier,
	}})
}

func rejectedPayload(err error) game.RejectedPayload {
	payload := game.RejectedPayload{Code: ledger.ErrorCode(err), Message: err.Error()}
	if !ledger.IsRejection(err) {
		log.Printf("[SERVER] Internal error: %v", err)
		payload.Message = "internal error"
	}
	return payload
}
