package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zencmmn/internal/config"
	"github.com/pbinitiative/zencmmn/internal/otel"
	"github.com/pbinitiative/zencmmn/pkg/cmmn"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/history"
	"github.com/pbinitiative/zencmmn/pkg/eventregistry"
	"github.com/pbinitiative/zencmmn/pkg/script/js"
	"github.com/pbinitiative/zencmmn/pkg/storage/inmemory"
)

func main() {
	logger := hclog.Default().Named("zencmmn")

	appContext, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	conf, err := config.InitConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	openTelemetry, err := otel.SetupOtel(conf)
	if err != nil {
		logger.Error("failed to set up otel", "error", err)
		os.Exit(1)
	}

	options := []cmmn.EngineOption{
		cmmn.EngineWithStorage(inmemory.NewStorage()),
		cmmn.EngineWithName(conf.Engine.Name),
		cmmn.EngineWithLogger(logger.Named("engine")),
		cmmn.EngineWithHistoryRecorder(history.NewInMemoryRecorder()),
		cmmn.EngineWithMaxEvaluationPasses(conf.Engine.MaxEvaluationPasses),
	}
	if conf.Engine.ExpressionLanguage == "javascript" {
		jsRuntime := js.NewJsRuntime(appContext, conf.Engine.ScriptPool.MaxSize, conf.Engine.ScriptPool.MinSize)
		options = append(options, cmmn.EngineWithExpressionRuntime(jsRuntime))
	}
	engine := cmmn.NewEngine(options...)

	registry := eventregistry.NewRegistry(&engine, logger.Named("event-registry"))
	for _, channelFile := range conf.Registry.ChannelFiles {
		data, err := os.ReadFile(channelFile)
		if err != nil {
			logger.Error("failed to read channel definition", "file", channelFile, "error", err)
			os.Exit(1)
		}
		channel, err := eventregistry.ParseChannelDefinition(data)
		if err != nil {
			logger.Error("failed to parse channel definition", "file", channelFile, "error", err)
			os.Exit(1)
		}
		if err := registry.RegisterChannel(channel); err != nil {
			logger.Error("failed to register channel", "file", channelFile, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("case engine started", "name", conf.Engine.Name,
		"expressionLanguage", conf.Engine.ExpressionLanguage,
		"channels", len(conf.Registry.ChannelFiles))

	appStop := make(chan os.Signal, 2)
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	logger.Info("received signal, shutting down", "signal", sig.String())

	ctxCancel()
	openTelemetry.Stop(context.Background())
}
