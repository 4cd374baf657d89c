package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
)

// NewDefaultBroker registers the built-in tools available under cfg. The
// knowledge base is registered only when its Redis answers a ping.
func NewDefaultBroker(ctx context.Context, cfg config.ToolsConfig, logger *zap.Logger) (*Broker, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := NewBroker(cfg, logger)
	b.Register(NewWebSearch(cfg.TavilyAPIKey, cfg.TavilyURL, &http.Client{Timeout: 30 * time.Second}))
	b.Register(NewCalculator())
	b.Register(NewSandbox(cfg))
	b.Register(ImageGeneration{})

	closer := func() error { return nil }
	if cfg.KnowledgeRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.KnowledgeRedisAddr})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("knowledge base redis at %s: %w", cfg.KnowledgeRedisAddr, err)
		}
		b.Register(NewKnowledgeBase(rdb, cfg.KnowledgePrefix))
		closer = rdb.Close
	}

	logger.Info("Tool broker ready", zap.Strings("tools", b.Names()))
	return b, closer, nil
}
