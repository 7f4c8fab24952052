package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"PixelBoard/internal/api"
	"PixelBoard/internal/circuitbreaker"
	"PixelBoard/internal/config"
	"PixelBoard/internal/events"
	"PixelBoard/internal/grid"
	"PixelBoard/internal/imagegen"
	"PixelBoard/internal/images"
	"PixelBoard/internal/observability/metrics"
	"PixelBoard/internal/payment"
	"PixelBoard/internal/placement"
	"PixelBoard/pkg/logger"
	"PixelBoard/web"
)

// main 是 PixelBoard 服务端的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pixelboardd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时忽略，生产环境直接使用进程环境变量。
	_ = godotenv.Load()

	cfg, err := config.Resolve()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("pixelboardd")

	unitPrice, err := grid.AmountFromUSD(cfg.Grid.UnitPriceUSD)
	if err != nil {
		return err
	}
	store := grid.NewStore(unitPrice, grid.WithSize(cfg.Grid.Width, cfg.Grid.Height))

	hub := events.NewHub(cfg.Events.Buffer)
	publisher, err := buildPublisher(ctx, cfg.Events, hub)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("关闭事件总线失败", "error", err)
		}
	}()

	imageStore, err := buildImageStore(ctx, cfg.Images.Store)
	if err != nil {
		return err
	}
	generator, err := imagegen.New(ctx, imagegen.Config{
		Provider: cfg.Images.Generator.Provider,
		APIKey:   cfg.Images.Generator.APIKey,
		BaseURL:  cfg.Images.Generator.BaseURL,
		Model:    cfg.Images.Generator.Model,
	})
	if err != nil {
		return err
	}
	imageService := images.NewService(imageStore, generator,
		images.WithBreaker(newBreaker("imagegen")),
		images.WithPublisher(publisher),
		images.WithMaxSize(cfg.Grid.Width, cfg.Grid.Height),
		images.WithTimeout(cfg.Images.Timeout()),
	)
	defer imageService.Close()

	ledger := placement.NewLedger(store, imageService, placement.WithPublisher(publisher))

	var facilitator payment.Facilitator
	if cfg.Payment.Enabled {
		facilitator = payment.NewHTTPFacilitator(payment.FacilitatorConfig{
			URL:     cfg.Facilitator.URL,
			APIKey:  cfg.Facilitator.APIKey,
			Timeout: cfg.Facilitator.Timeout(),
		}, newBreaker("facilitator"))
	}
	gate, err := payment.NewGate(payment.Config{
		Enabled:           cfg.Payment.Enabled,
		Network:           cfg.Payment.Network,
		PayTo:             cfg.Payment.PayTo,
		Asset:             cfg.Payment.Asset,
		TokenName:         cfg.Payment.TokenName,
		TokenVersion:      cfg.Payment.TokenVersion,
		MaxTimeoutSeconds: cfg.Payment.MaxTimeoutSeconds,
		PublicURL:         cfg.Server.PublicURL,
	}, facilitator)
	if err != nil {
		return err
	}
	if !cfg.Payment.Enabled {
		log.Warn("支付未启用，付费接口将免费开放")
	}

	server, err := api.NewServer(cfg.Server.Address, api.Dependencies{
		Store:     store,
		Ledger:    ledger,
		Images:    imageService,
		Gate:      gate,
		Hub:       hub,
		Publisher: publisher,
		Limiter:   api.NewRateLimiter(cfg.Images.RateLimitPerMinute, cfg.Images.RateLimitBurst),
		Viewer:    web.FS(),
	})
	if err != nil {
		return err
	}

	log.Info("PixelBoard 服务启动",
		"address", cfg.Server.Address,
		"grid", fmt.Sprintf("%dx%d", cfg.Grid.Width, cfg.Grid.Height),
		"unit_price", unitPrice.String(),
		"payments", cfg.Payment.Enabled,
		"network", cfg.Payment.Network,
		"generator", generator.Name(),
		"image_store", cfg.Images.Store.Driver)

	return server.Start(ctx)
}

func newBreaker(name string) *circuitbreaker.Breaker {
	return circuitbreaker.New(name, 5, 30*time.Second,
		circuitbreaker.WithStateChange(func(name string, _, to circuitbreaker.State) {
			metrics.SetBreakerState(name, int(to))
			logger.L().Warn("熔断器状态变化", "breaker", name, "state", to.String())
		}))
}

// buildPublisher 组合事件驱动。内存总线始终在列，供查看器的 SSE 使用。
func buildPublisher(ctx context.Context, cfg config.EventsConfig, hub *events.Hub) (events.Publisher, error) {
	publishers := events.Multi{hub}
	if cfg.Has("redis") {
		p, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			_ = publishers.Close()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	if cfg.Has("rabbitmq") {
		p, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
		if err != nil {
			_ = publishers.Close()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}

func buildImageStore(ctx context.Context, cfg config.ImageStoreConfig) (images.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return images.NewMemoryStore(), nil
	case "redis":
		return images.NewRedisStore(ctx, images.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL(),
		})
	case "minio":
		return images.NewMinioStore(ctx, images.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
	default:
		return nil, fmt.Errorf("未知的图片存储驱动: %s", cfg.Driver)
	}
}
