package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/stellarlinkco/larkmind/internal/bus"
	"github.com/stellarlinkco/larkmind/internal/channel"
	"github.com/stellarlinkco/larkmind/internal/config"
	"github.com/stellarlinkco/larkmind/internal/cron"
	"github.com/stellarlinkco/larkmind/internal/fastgpt"
	"github.com/stellarlinkco/larkmind/internal/memory"
)

const (
	expiryJobName = "__internal_memory_expiry"
	expiryJobTask = "memory:expire"
	expiryJobExpr = "0 0 3 * * *"
)

// ReplyClient generates the answer for one user question (allows mocking in
// tests).
type ReplyClient interface {
	Chat(ctx context.Context, chatID, question, userContext string) (string, error)
}

// Options for creating a Gateway
type Options struct {
	ReplyClient ReplyClient
	SignalChan  chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	reply      ReplyClient
	channels   *channel.ChannelManager
	cron       *cron.Service
	store      *memory.Store
	memSvc     *memory.Service
	sessions   *sessionTracker
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, sessions: newSessionTracker()}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Memory store and service
	if cfg.Memory.Enabled {
		dbPath := strings.TrimSpace(cfg.Memory.DBPath)
		if dbPath == "" {
			dbPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
		}
		store, err := memory.NewStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		g.store = store
		g.memSvc = memory.NewService(store, memory.NewLLMClient(cfg), cfg.Memory)
	}

	// Reply generation via FastGPT (injectable for testing)
	if opts.ReplyClient != nil {
		g.reply = opts.ReplyClient
	} else {
		client, err := fastgpt.NewClient(cfg.FastGPT)
		if err != nil {
			g.closeStore()
			return nil, fmt.Errorf("create fastgpt client: %w", err)
		}
		g.reply = client
	}

	g.signalChan = opts.SignalChan

	// Cron
	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.handleCronJob

	// Channels
	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.closeStore()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) closeStore() {
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close memory store warning: %v", err)
		}
	}
}

// handleCronJob dispatches a fired job: internal maintenance tasks run in
// process, message payloads are delivered over the bus.
func (g *Gateway) handleCronJob(job cron.CronJob) (string, error) {
	if job.Payload.Task == expiryJobTask {
		if g.store == nil {
			return "skipped", nil
		}
		return "ok", memory.RunExpiry(g.store, g.cfg.Memory.Expiry)
	}

	if job.Payload.Message != "" && job.Payload.Channel != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.To,
			Content: job.Payload.Message,
		}
		return "delivered", nil
	}

	return "", fmt.Errorf("job %s has no actionable payload", job.Name)
}

// ensureMaintenanceJobs registers the daily expiry job once.
func (g *Gateway) ensureMaintenanceJobs() error {
	if g.store == nil || !g.cfg.Memory.Expiry.Enabled {
		return nil
	}

	for _, job := range g.cron.ListJobs() {
		if job.Name == expiryJobName || job.Payload.Task == expiryJobTask {
			return nil
		}
	}

	_, err := g.cron.AddJob(expiryJobName,
		cron.Schedule{Kind: "cron", Expr: expiryJobExpr},
		cron.Payload{Task: expiryJobTask})
	return err
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureMaintenanceJobs(); err != nil {
		log.Printf("[gateway] ensure maintenance jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound runs one full turn: personalization context in, reply out,
// turn-completion signal to the memory pipeline last.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	var userContext string
	if g.memSvc != nil {
		userContext = g.memSvc.RequestContext(msg.SenderID, msg.Content, g.cfg.Memory.ImportanceThreshold)
	}

	reply, err := g.reply.Chat(ctx, msg.SessionKey(), msg.Content, userContext)
	if err != nil {
		log.Printf("[gateway] reply error: %v", err)
		reply = "Sorry, I encountered an error processing your message."
	}

	if reply != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
			ReplyTo: msg.MessageID,
		}
	}

	if g.memSvc != nil {
		transcript := g.sessions.AppendTurn(msg.SenderID, msg.Content, reply)
		g.memSvc.NotifyTurnComplete(msg.SenderID, transcript, memory.TurnSource{
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			ChatType:  msg.ChatType,
		})
	}
}

// EraseUser removes everything known about a user: pending extraction,
// session window, stored profile and memories.
func (g *Gateway) EraseUser(userID string) error {
	g.sessions.Forget(userID)
	if g.memSvc == nil {
		return nil
	}
	return g.memSvc.EraseUserData(userID)
}

func (g *Gateway) Shutdown() error {
	if g.memSvc != nil {
		g.memSvc.Stop()
	}
	g.cron.Stop()
	_ = g.channels.StopAll()
	g.bus.Close()
	g.closeStore()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
