package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jManniCode/finans-ai/internal/config"
	"github.com/jManniCode/finans-ai/internal/embedding"
	"github.com/jManniCode/finans-ai/internal/helper"
	"github.com/jManniCode/finans-ai/internal/ingest"
	"github.com/jManniCode/finans-ai/internal/llmservice"
	"github.com/jManniCode/finans-ai/internal/responder"
	"github.com/jManniCode/finans-ai/internal/segmenter"
	"github.com/jManniCode/finans-ai/internal/server"
	"github.com/jManniCode/finans-ai/internal/session"
	"github.com/jManniCode/finans-ai/internal/vectorindex"
)

const (
	defaultConfigPath = "./configs/config.yaml"
	indexSubdir       = "chroma_data"
	tempSubdir        = "temp_pdf"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	log.Debug().Interface("config", cfg.RAG).Str("addr", cfg.Server.Addr).Msg("Loaded config")

	indexRoot := filepath.Join(cfg.Storage.DataDir, indexSubdir)
	tempRoot := filepath.Join(cfg.Storage.DataDir, tempSubdir)
	for _, dir := range []string{indexRoot, tempRoot} {
		if err := helper.CreateFolder(dir); err != nil {
			log.Fatal().Err(err).Msg("Error creating data folder")
		}
	}

	store, err := session.NewStore(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening session store")
	}
	// Reclaim index directories whose removal was deferred last run.
	store.SweepPending()

	embedder, err := embedding.NewFromConfig(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	embedFunc := embedding.ChromemFunc(embedder)

	llm, err := llmservice.New(&cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	registry := vectorindex.NewRegistry(embedFunc)
	seg := segmenter.New(cfg.RAG)
	resp := responder.New(llm, store, registry, cfg.RAG.TopK, time.Duration(cfg.ChatLLM.TimeoutSecs)*time.Second)
	ingestor := ingest.New(seg, store, registry, resp, embedFunc, indexRoot)

	srv := server.New(store, registry, resp, ingestor, tempRoot, cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Shutdown complete")
}
