package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rdgram/pkg/config"
	"rdgram/pkg/observability"
	"rdgram/pkg/peercache"
	"rdgram/pkg/rudp"
	"rdgram/pkg/socket/udp"
)

// echoHandler sends every message straight back on the channel it came in
// on. Notify echoes carry no callback; the far side tracks its own.
type echoHandler struct {
	log *zap.Logger
}

func (h *echoHandler) OnConnected(c *rudp.Connection) {
	h.log.Info("client connected", zap.Stringer("remote", c.Endpoint()))
}

func (h *echoHandler) OnDisconnected(c *rudp.Connection, reason rudp.Reason) {
	h.log.Info("client disconnected",
		zap.Stringer("remote", c.Endpoint()),
		zap.String("reason", reason.String()))
}

func (h *echoHandler) OnConnectFailed(c *rudp.Connection, reason rudp.Reason) {
	h.log.Warn("connect failed", zap.String("reason", reason.String()))
}

func (h *echoHandler) OnMessage(c *rudp.Connection, payload []byte, ch rudp.Channel) {
	var err error
	switch ch {
	case rudp.ChannelReliable:
		err = c.SendReliable(payload)
	case rudp.ChannelNotify:
		err = c.SendNotify(payload, nil)
	default:
		err = c.SendUnreliable(payload)
	}
	if err != nil {
		h.log.Warn("echo failed", zap.Stringer("channel", ch), zap.Error(err))
	}
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("rdgram-echo started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	sock, err := udp.Listen(cfg.Listen, cfg.MTU)
	if err != nil {
		zap.L().Error("failed to open socket", zap.Error(err))
		return 1
	}

	cache := peercache.New(peercache.Options{})
	defer cache.Close()

	peer := rudp.New(sock, &echoHandler{log: logger}, cfg.Params(), logger)
	peer.AttachSessionCache(cache)
	if err := peer.Bind(); err != nil {
		zap.L().Error("failed to bind", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zap.L().Info("echo server is running; press Ctrl+C to exit",
		zap.Stringer("local", sock.LocalEndpoint()))

	tick := time.NewTicker(time.Duration(cfg.TickMS) * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("shutting down",
				zap.Int("sessions_seen", cache.Len()),
				zap.Any("cache", cache.Stats()))
			return closePeer(peer)
		case <-tick.C:
			if err := peer.UpdateReceive(); err != nil {
				zap.L().Error("receive phase failed", zap.Error(err))
				return closePeer(peer)
			}
			if err := peer.UpdateSent(); err != nil {
				zap.L().Error("send phase failed", zap.Error(err))
				return closePeer(peer)
			}
		}
	}
}

func closePeer(p *rudp.Peer) int {
	if err := p.Close(); err != nil {
		zap.L().Error("close failed", zap.Error(err))
		return 1
	}
	return 0
}
