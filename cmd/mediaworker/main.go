// Command mediaworker runs the media pipeline worker: it drains queued
// tasks from the metadata store (or a Redis list), executes their flows,
// and persists results. All wiring is explicit; configuration comes from
// the environment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dastron/video-ware-sub000/blob"
	"github.com/dastron/video-ware-sub000/cache"
	"github.com/dastron/video-ware-sub000/controller"
	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/flow"
	"github.com/dastron/video-ware-sub000/logger"
	"github.com/dastron/video-ware-sub000/mediatool"
	"github.com/dastron/video-ware-sub000/providers"
	"github.com/dastron/video-ware-sub000/steps"
	"github.com/dastron/video-ware-sub000/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mediaworker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := core.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewFromEnv()

	records, err := buildRecordStore(log)
	if err != nil {
		return err
	}

	blobRoot := os.Getenv("MEDIAWORKER_BLOB_ROOT")
	if blobRoot == "" {
		blobRoot = "./data/blobs"
	}
	blobs, err := blob.NewLocalStore(blobRoot, cfg.BlobBucket)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
	}

	var artifacts cache.ArtifactCache
	if redisClient != nil {
		artifacts = cache.NewRedisCache(redisClient, &cache.RedisCacheConfig{Logger: log})
	} else {
		artifacts = cache.NewMemoryCache()
	}

	deps := &steps.Deps{
		Records: records,
		Blobs:   blobs,
		Tool:    mediatool.NewFFmpegTool(log.WithComponent("mediatool")),
		Video:   buildVideoProvider(log),
		Speech:  buildSpeechProvider(log),
		Cache:   artifacts,
		Logger:  log.WithComponent("steps"),
		Config:  cfg,
	}

	scheduler := flow.NewScheduler(steps.NewRegistry(deps), cfg, log.WithComponent("flow"))

	var profiles *flow.ProfileSet
	if path := os.Getenv("MEDIAWORKER_PROFILES"); path != "" {
		profiles, err = flow.LoadProfiles(path)
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
	}

	opts := controller.Options{
		Records:   records,
		Scheduler: scheduler,
		Config:    cfg,
		Logger:    log,
		Profiles:  profiles,
	}
	if redisClient != nil {
		source := controller.NewRedisSource(redisClient, &controller.RedisSourceConfig{Logger: log})
		opts.Source = source
		opts.Requeue = source.Enqueue
	} else {
		opts.Source = controller.NewStoreSource(records, log)
	}

	ctrl, err := controller.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down", nil)
	cancel()
	return ctrl.Stop(30 * time.Second)
}

// buildRecordStore connects to the remote record service when configured,
// otherwise runs against an in-process store for local development.
func buildRecordStore(log core.ComponentAwareLogger) (store.RecordStore, error) {
	if baseURL := os.Getenv("MEDIAWORKER_STORE_URL"); baseURL != "" {
		return store.NewHTTPStore(store.HTTPStoreOptions{
			BaseURL: baseURL,
			Token:   os.Getenv("MEDIAWORKER_STORE_TOKEN"),
			Logger:  log.WithComponent("store"),
		}), nil
	}

	mem := store.NewMemoryStore()
	mem.AddUniqueIndex(steps.CollectionMedia, "upload")
	mem.AddUniqueIndex(steps.CollectionEntities, "hash")
	mem.AddUniqueIndex(steps.CollectionTracks, "hash")
	mem.AddUniqueIndex(steps.CollectionClips, "hash")
	mem.AddUniqueIndex(steps.CollectionSummaries, "media")
	log.Warn("No store URL configured, using in-memory store", nil)
	return mem, nil
}

func buildVideoProvider(log core.ComponentAwareLogger) providers.VideoIntelligence {
	baseURL := os.Getenv("MEDIAWORKER_VIDEO_API_URL")
	if baseURL == "" {
		log.Warn("Video intelligence provider not configured", nil)
		return nil
	}
	return providers.NewHTTPVideoClient(providers.HTTPClientOptions{
		BaseURL: baseURL,
		Token:   os.Getenv("MEDIAWORKER_VIDEO_API_TOKEN"),
		Logger:  log.WithComponent("providers"),
	})
}

func buildSpeechProvider(log core.ComponentAwareLogger) providers.SpeechToText {
	baseURL := os.Getenv("MEDIAWORKER_SPEECH_API_URL")
	if baseURL == "" {
		log.Warn("Speech provider not configured", nil)
		return nil
	}
	return providers.NewHTTPSpeechClient(providers.HTTPClientOptions{
		BaseURL: baseURL,
		Token:   os.Getenv("MEDIAWORKER_SPEECH_API_TOKEN"),
		Logger:  log.WithComponent("providers"),
	})
}
