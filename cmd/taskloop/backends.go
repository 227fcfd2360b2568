package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"

	"goa.design/taskloop/config"
	"goa.design/taskloop/features/model/anthropic"
	"goa.design/taskloop/features/model/bedrock"
	"goa.design/taskloop/features/model/gemini"
	"goa.design/taskloop/features/model/middleware"
	"goa.design/taskloop/features/model/openai"
	redisoverflow "goa.design/taskloop/features/overflow/redis"
	mongorunlog "goa.design/taskloop/features/runlog/mongo"
	"goa.design/taskloop/runtime/agent/model"
	"goa.design/taskloop/runtime/agent/overflow"
	"goa.design/taskloop/runtime/agent/overflow/inmem"
	"goa.design/taskloop/runtime/agent/runlog"
	runloginmem "goa.design/taskloop/runtime/agent/runlog/inmem"
	"goa.design/taskloop/runtime/agent/telemetry"
)

// newModelClient builds the provider client, rate limited when configured.
func newModelClient(ctx context.Context, cfg config.Model, logger telemetry.Logger) (model.Client, error) {
	var (
		c   model.Client
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		reqOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			reqOpts = append(reqOpts, openaiopt.WithBaseURL(cfg.BaseURL))
		}
		oc := openaisdk.NewClient(reqOpts...)
		c, err = openai.New(openai.Options{
			Client:       &oc.Chat.Completions,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
	case config.ProviderAnthropic:
		reqOpts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			reqOpts = append(reqOpts, anthropicopt.WithBaseURL(cfg.BaseURL))
		}
		ac := anthropicsdk.NewClient(reqOpts...)
		c, err = anthropic.New(&ac.Messages, anthropic.Options{
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  float64(cfg.Temperature),
		})
	case config.ProviderBedrock:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, lerr := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if lerr != nil {
			return nil, fmt.Errorf("load aws config: %w", lerr)
		}
		c, err = bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Logger:       logger,
		})
	case config.ProviderGemini:
		c, err = gemini.NewFromAPIKey(ctx, cfg.APIKey, gemini.Options{
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.TokensPerMinute > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(cfg.TokensPerMinute, cfg.TokensPerMinute)
		c = model.Chain(c, limiter.Middleware())
	}
	return c, nil
}

// backends holds the storage backends of a run.
type backends struct {
	overflow overflow.Store
	runlog   runlog.Store
	pingers  []health.Pinger
	closers  []func()
}

// openBackends opens the configured overflow and run log backends.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	ov, p, closeOv, err := newOverflow(cfg.Overflow)
	if err != nil {
		return nil, fmt.Errorf("overflow: %w", err)
	}
	b.overflow = ov
	b.add(p, closeOv)
	rl, p, closeRL, err := newRunLog(ctx, cfg.RunLog)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("run log: %w", err)
	}
	b.runlog = rl
	b.add(p, closeRL)
	return b, nil
}

func (b *backends) add(p health.Pinger, closer func()) {
	if p != nil {
		b.pingers = append(b.pingers, p)
	}
	if closer != nil {
		b.closers = append(b.closers, closer)
	}
}

// check fails when a backend does not answer.
func (b *backends) check(ctx context.Context) error {
	if len(b.pingers) == 0 {
		return nil
	}
	h, ok := health.NewChecker(b.pingers...).Check(ctx)
	if ok {
		return nil
	}
	var down []string
	for name, status := range h.Status {
		if status != "OK" {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return fmt.Errorf("unhealthy dependencies: %s", strings.Join(down, ", "))
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// newOverflow builds the overflow store. The pinger is nil for the
// in-memory backend.
func newOverflow(cfg config.Overflow) (overflow.Store, health.Pinger, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return inmem.New(), nil, func() {}, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s, err := redisoverflow.New(rdb, redisoverflow.Options{Prefix: cfg.Prefix, TTL: cfg.TTL})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, nil, err
	}
	return s, s, func() { _ = rdb.Close() }, nil
}

// newRunLog builds the run log store. The store is nil when disabled.
func newRunLog(ctx context.Context, cfg config.RunLog) (runlog.Store, health.Pinger, func(), error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil, func() {}, nil
	case config.BackendMongo:
	default:
		return runloginmem.New(), nil, func() {}, nil
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	disconnect := func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }
	s, err := mongorunlog.New(ctx, mongorunlog.Options{
		Client:     client,
		Database:   cfg.Database,
		Collection: cfg.Collection,
	})
	if err != nil {
		disconnect()
		return nil, nil, nil, err
	}
	return s, s, disconnect, nil
}
