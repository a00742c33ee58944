package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/api"
	"github.com/ZJUSCT/CSJudge/internal/api/admin"
	"github.com/ZJUSCT/CSJudge/internal/api/judgehost"
	"github.com/ZJUSCT/CSJudge/internal/api/public"
	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/ZJUSCT/CSJudge/internal/database"
	"github.com/ZJUSCT/CSJudge/internal/database/models"
	"github.com/ZJUSCT/CSJudge/internal/export"
	"github.com/ZJUSCT/CSJudge/internal/judgequeue"
	"github.com/ZJUSCT/CSJudge/internal/notify"
	"github.com/ZJUSCT/CSJudge/internal/pubsub"
	"github.com/ZJUSCT/CSJudge/internal/scoreboard"
	"github.com/ZJUSCT/CSJudge/internal/testdata"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var Version = "dev-build"

func newLogger(cfg config.Logger) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		if cfg.Level != "" {
			level, err := zap.ParseAtomicLevel(cfg.Level)
			if err != nil {
				return nil, err
			}
			zcfg.Level = level
		}
	}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}
	return zcfg.Build()
}

func judgehostRestrictions(r config.Restrictions) models.Restrictions {
	rejudgeOwn := true
	if r.RejudgeOwn != nil {
		rejudgeOwn = *r.RejudgeOwn
	}
	return models.Restrictions{
		Contests:   r.Contests,
		Problems:   r.Problems,
		Languages:  r.Languages,
		RejudgeOwn: rejudgeOwn,
	}
}

func serve(name string, srv *http.Server) {
	zap.S().Infof("starting %s server at %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Fatalf("failed to start %s server: %v", name, err)
	}
}

func main() {

	fmt.Fprintf(os.Stderr, "ZJUSCT CSJudge %s - Contest Judging and Scoreboard Service\n\n", Version)

	// config
	var configPath string
	flag.StringVar(&configPath, "c", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// logger
	logger, err := newLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	if cfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// database
	db, err := database.Init(cfg.Storage)
	if err != nil {
		zap.S().Fatalf("failed to initialize database: %v", err)
	}
	zap.S().Info("database initialized successfully")

	// contests and scoring rules
	rules, err := contest.RulesFromConfig(cfg.Scoring)
	if err != nil {
		zap.S().Fatalf("invalid scoring configuration: %v", err)
	}
	registry := contest.NewRegistry(rules, cfg.Languages)

	var provider testdata.Provider = testdata.Static{}
	if cfg.MinIO.Endpoint != "" {
		m, err := testdata.NewMinIO(cfg.MinIO)
		if err != nil {
			zap.S().Fatalf("failed to initialize minio testdata provider: %v", err)
		}
		provider = m
		zap.S().Infof("serving testdata from minio bucket %s", cfg.MinIO.Bucket)
	}

	board := scoreboard.NewCache(database.NewScoreSource(db))
	broker := pubsub.GetBroker()
	balloons := notify.NewBalloonLog(db, broker)

	// hooks run before the first refresh so that no change is missed
	board.OnNewCorrectSolve(balloons.Hook())
	board.OnChange(notify.PublishChanges(broker))

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := notify.NewKafkaNotifier(cfg.Kafka)
		if err != nil {
			zap.S().Fatalf("failed to initialize kafka notifier: %v", err)
		}
		defer k.Close()
		board.OnNewCorrectSolve(k.Hook())
		go k.Run(ctx)
		zap.S().Infof("publishing solves to kafka topic %s", cfg.Kafka.Topic)
	}

	if cfg.Redis.Addr != "" {
		client, err := export.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			zap.S().Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		exporter, err := export.NewRedisExporter(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL, board, registry)
		if err != nil {
			zap.S().Fatalf("failed to initialize scoreboard exporter: %v", err)
		}
		defer exporter.Close()
		board.OnChange(exporter.Hook())
		go exporter.Run(ctx)
		zap.S().Infof("mirroring scoreboards to redis at %s", cfg.Redis.Addr)
	}

	queue := judgequeue.NewCoordinator(db, registry, board, provider, judgequeue.OptionsFromConfig(cfg.Queue))

	services := &api.Services{
		Config:   cfg,
		DB:       db,
		Registry: registry,
		Board:    board,
		Queue:    queue,
		Balloons: balloons,
		Broker:   broker,
	}
	if err := services.Reload(ctx); err != nil {
		zap.S().Fatalf("failed to load contests: %v", err)
	}

	for _, acc := range cfg.Auth.Judgehosts {
		if _, err := queue.RegisterJudgehost(ctx, acc.Name, judgehostRestrictions(acc.Restrictions)); err != nil {
			zap.S().Fatalf("failed to register judgehost %s: %v", acc.Name, err)
		}
	}
	zap.S().Infof("registered %d judgehosts", len(cfg.Auth.Judgehosts))

	// recovery
	if err := queue.Recover(ctx); err != nil {
		zap.S().Errorf("failed to recover interrupted judgings: %v", err)
	}
	go queue.RunReclaimer(ctx)

	// API routers
	publicEngine := public.NewRouter(services)
	servers := []*http.Server{{Addr: cfg.Listen, Handler: publicEngine}}
	names := []string{"public"}

	if cfg.Judgehost.Enabled {
		servers = append(servers, &http.Server{Addr: cfg.Judgehost.Listen, Handler: judgehost.NewRouter(services)})
		names = append(names, "judgehost")
	} else {
		judgehost.Register(publicEngine, services)
	}
	if cfg.Admin.Enabled {
		servers = append(servers, &http.Server{Addr: cfg.Admin.Listen, Handler: admin.NewAdminRouter(services)})
		names = append(names, "admin")
	}

	for i, srv := range servers {
		go serve(names[i], srv)
	}

	// graceful shutdown
	<-ctx.Done()
	zap.S().Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.S().Errorf("failed to shut down %s server: %v", names[i], err)
		}
	}
}
