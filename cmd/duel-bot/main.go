package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pawnstorm/chess-duel-bot/internal/archive"
	"github.com/pawnstorm/chess-duel-bot/internal/bridge"
	"github.com/pawnstorm/chess-duel-bot/internal/challenge"
	appcfg "github.com/pawnstorm/chess-duel-bot/internal/config"
	"github.com/pawnstorm/chess-duel-bot/internal/msgcat"
	"github.com/pawnstorm/chess-duel-bot/internal/obslog"
	"github.com/pawnstorm/chess-duel-bot/internal/render"
	"github.com/pawnstorm/chess-duel-bot/internal/session"
	"github.com/pawnstorm/chess-duel-bot/internal/stats"
	"github.com/pawnstorm/chess-duel-bot/internal/turn"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	catalog, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		logger.Fatal("message_catalog_error", zap.Error(err))
	}

	ledger, err := stats.NewLedger(cfg.RedisURL)
	if err != nil {
		logger.Fatal("stats_init_error", zap.Error(err))
	}
	if err := ledger.Load(context.Background()); err != nil {
		logger.Fatal("stats_load_error", zap.Error(err))
	}

	var archiver turn.Archiver
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
		archiver = repo
	}

	client := bridge.NewClient(cfg.BridgeBaseURL)
	surface := bridge.NewSurface(client)

	ctrl := turn.NewController(turn.Deps{
		Registry:   session.NewRegistry(),
		Challenges: challenge.NewManager(),
		Ledger:     ledger,
		Archive:    archiver,
		Renderer:   render.NewSVGBoardRenderer(),
		Surface:    surface,
		Catalog:    catalog,
	})
	surface.SetSelectionHandler(ctrl.HandleSelection)

	ws := bridge.NewWebSocket(cfg.BridgeWSURL, 5, time.Second)
	ws.OnStateChange(func(state bridge.WebSocketState) {
		logger.Info("ws_state", zap.String("state", string(state)))
	})
	ws.OnMessage(func(msg *bridge.Message) {
		if msg == nil || strings.TrimSpace(msg.Text) == "" {
			return
		}
		if len(cfg.AllowedRooms) > 0 && !roomAllowed(cfg.AllowedRooms, msg.Room) {
			return
		}
		// keep the ws read loop free
		go dispatch(ctrl, surface, cfg, msg)
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = ws.Connect(cctx)
	cancel()
	if err != nil {
		logger.Fatal("ws_connect_error", zap.Error(err))
	}
	logger.Info("bot_started", zap.String("prefix", cfg.BotPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = ws.Close(context.Background())
	_ = ledger.Close()
	if repo != nil {
		_ = repo.Close()
	}
}

// dispatch routes one inbound message: choice answers first, then prefixed
// commands.
func dispatch(ctrl *turn.Controller, surface *bridge.Surface, cfg *appcfg.AppConfig, msg *bridge.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if surface.HandleInbound(ctx, msg) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, cfg.BotPrefix) {
		return
	}
	parts := strings.Fields(strings.TrimPrefix(text, cfg.BotPrefix))
	if len(parts) == 0 {
		return
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	actor := session.Participant{ID: msg.SenderID, Name: senderName(msg)}

	switch cmd {
	case "chess":
		if len(args) < 1 {
			sendHelp(ctx, surface, cfg, msg.Room)
			return
		}
		inviteeID := strings.TrimPrefix(args[0], "@")
		invitee := session.Participant{ID: inviteeID, Name: inviteeID}
		ctrl.Challenge(ctx, msg.Room, actor, invitee)
	case "accept":
		ctrl.Accept(ctx, msg.Room, actor)
	case "decline":
		ctrl.Decline(ctx, msg.Room, actor)
	case "draw":
		ctrl.OfferDraw(ctx, msg.Room, actor)
	case "resign":
		ctrl.Surrender(ctx, msg.Room, actor)
	case "board":
		ctrl.ShowBoard(ctx, msg.Room, actor)
	case "stats":
		ctrl.ShowStats(ctx, msg.Room, statsTarget(actor, args))
	case "help":
		sendHelp(ctx, surface, cfg, msg.Room)
	}
}

func sendHelp(ctx context.Context, surface *bridge.Surface, cfg *appcfg.AppConfig, room string) {
	p := cfg.BotPrefix
	help := strings.Join([]string{
		"Chess duel bot",
		"",
		p + "chess @user - challenge a player",
		p + "accept / " + p + "decline - answer a challenge",
		p + "draw - offer a draw (on your turn)",
		p + "resign - resign your game",
		p + "board - show the current board",
		p + "stats [@user] - show a player's record",
	}, "\n")
	_, _ = surface.ShowMessage(ctx, room, help, nil)
}

// statsTarget resolves whose record to show: the mentioned player if the
// command names one, the invoker otherwise.
func statsTarget(actor session.Participant, args []string) session.Participant {
	if len(args) == 0 {
		return actor
	}
	id := strings.TrimPrefix(args[0], "@")
	return session.Participant{ID: id, Name: id}
}

func senderName(msg *bridge.Message) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}
	return msg.SenderID
}

func roomAllowed(allowed []string, room string) bool {
	for _, r := range allowed {
		if r == room {
			return true
		}
	}
	return false
}
