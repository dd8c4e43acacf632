// Package main provides the process entrypoint: config loading, component
// wiring, and graceful shutdown for the trading core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/trading-core/internal/api"
	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/patterns"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/storage/memory"
	"github.com/atlas-desktop/trading-core/internal/supervisor"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	host := flag.String("host", "localhost", "API server host")
	port := flag.Int("port", 8080, "API server port")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	maxWorkers := flag.Int("max-workers", 3, "Maximum number of traders in the fleet, running or not")
	configFile := flag.String("config", "", "Path to a YAML config file (optional; env and flags still apply)")
	flag.Parse()

	v := loadViperConfig(*configFile)

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	riskConfig := loadRiskConfig(v)
	telemetryConfig := loadTelemetryConfig(v)
	supervisorConfig := types.DefaultSupervisorConfig()
	supervisorConfig.MaxWorkers = *maxWorkers
	loopConfig := types.DefaultTradingLoopConfig()
	patternConfig := types.DefaultPatternServiceConfig()
	credentials := loadExchangeCredentials(v)

	serverConfig := types.ServerConfig{
		Host:           *host,
		Port:           *port,
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MetricsEnabled: v.GetBool("server.metricsEnabled"),
		APIKey:         v.GetString("server.apiKey"),
	}

	logger.Info("starting trading core",
		zap.String("host", serverConfig.Host),
		zap.Int("port", serverConfig.Port),
		zap.Int("maxWorkers", supervisorConfig.MaxWorkers),
	)

	repo := memory.New()
	riskEngine := risk.New(logger, riskConfig)
	bus := telemetry.New(logger, telemetryConfig)
	patternSvc := patterns.New(patternConfig)

	sup := supervisor.New(
		logger,
		supervisorConfig,
		repo,
		riskEngine,
		patternSvc,
		bus,
		adapterFactory(logger, credentials),
		loopConfig,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go riskEngine.Run(ctx)
	go bus.Run(ctx)

	if err := sup.Recover(ctx); err != nil {
		logger.Error("trader recovery failed", zap.Error(err))
	}

	server := api.NewServer(logger, serverConfig, sup, bus)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("trading core ready",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", serverConfig.Host, serverConfig.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", serverConfig.Host, serverConfig.Port, serverConfig.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sup.StopAll(shutdownCtx); err != nil {
		logger.Error("error stopping traders", zap.Error(err))
	}
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("trading core stopped")
}

// exchangeCredentials holds a per-exchange API key pair, loaded from config
// but not yet consumed by any registered adapter (see adapterFactory).
type exchangeCredentials struct {
	APIKey    string `mapstructure:"apiKey"`
	APISecret string `mapstructure:"apiSecret"`
}

// loadViperConfig layers an optional YAML file under environment variables
// (prefix TRADING_) and flags. A missing config file is not an error; the
// process falls back entirely to env vars and the types.Default*Config family.
func loadViperConfig(configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TRADING")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/trading-core")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "warning: config file error: %v\n", err)
		}
	}
	return v
}

// loadRiskConfig starts from types.DefaultRiskConfig and applies any
// "risk.*" overrides present in v.
func loadRiskConfig(v *viper.Viper) types.RiskConfig {
	cfg := types.DefaultRiskConfig()
	overrideDecimal(v, "risk.maxTotalBudget", &cfg.MaxTotalBudget)
	overrideDecimal(v, "risk.maxLeveragePerTrader", &cfg.MaxLeveragePerTrader)
	overrideDecimal(v, "risk.maxTotalLeverage", &cfg.MaxTotalLeverage)
	overrideDecimal(v, "risk.maxExposurePerTrader", &cfg.MaxExposurePerTrader)
	overrideDecimal(v, "risk.maxTotalExposure", &cfg.MaxTotalExposure)
	overrideDecimal(v, "risk.maxDailyLoss", &cfg.MaxDailyLoss)
	overrideDecimal(v, "risk.stopLossPercentage", &cfg.StopLossPercentage)
	if v.IsSet("risk.monitoringIntervalSeconds") {
		cfg.MonitoringIntervalSeconds = v.GetInt("risk.monitoringIntervalSeconds")
	}
	return cfg
}

// loadTelemetryConfig starts from types.DefaultTelemetryConfig and applies
// any "telemetry.*" overrides present in v.
func loadTelemetryConfig(v *viper.Viper) types.TelemetryConfig {
	cfg := types.DefaultTelemetryConfig()
	if v.IsSet("telemetry.subscriberBufferSize") {
		cfg.SubscriberBufferSize = v.GetInt("telemetry.subscriberBufferSize")
	}
	if v.IsSet("telemetry.riskAlertRingSize") {
		cfg.RiskAlertRingSize = v.GetInt("telemetry.riskAlertRingSize")
	}
	if v.IsSet("telemetry.heartbeatInterval") {
		cfg.HeartbeatInterval = v.GetDuration("telemetry.heartbeatInterval")
	}
	if v.IsSet("telemetry.idleTimeout") {
		cfg.IdleTimeout = v.GetDuration("telemetry.idleTimeout")
	}
	return cfg
}

func overrideDecimal(v *viper.Viper, key string, dst *decimal.Decimal) {
	if !v.IsSet(key) {
		return
	}
	parsed, err := decimal.NewFromString(v.GetString(key))
	if err != nil {
		return
	}
	*dst = parsed
}

// loadExchangeCredentials reads an "exchanges" map keyed by exchange name
// (e.g. "binance: {apiKey: ..., apiSecret: ...}"). Decryption of secrets at
// rest is left to the deployment's secret store; viper only layers plaintext
// env/file values here.
func loadExchangeCredentials(v *viper.Viper) map[types.Exchange]exchangeCredentials {
	raw := make(map[string]exchangeCredentials)
	if err := v.UnmarshalKey("exchanges", &raw); err != nil {
		return nil
	}
	out := make(map[types.Exchange]exchangeCredentials, len(raw))
	for name, creds := range raw {
		out[types.Exchange(name)] = creds
	}
	return out
}

// adapterFactory builds the Supervisor's exchange.Adapter for each trader's
// configured exchange. Only the simulated exchange is registered; real wire
// adapters are a deployment concern outside this module's scope.
func adapterFactory(logger *zap.Logger, credentials map[types.Exchange]exchangeCredentials) supervisor.AdapterFactory {
	return func(ex types.Exchange) (exchange.Adapter, error) {
		switch ex {
		case types.ExchangeSimulated:
			return exchange.NewSimulatedAdapter(logger), nil
		default:
			if _, configured := credentials[ex]; configured {
				return nil, corerr.Newf(corerr.KindUnavailable, "no wire adapter registered for exchange %s (credentials configured but unused)", ex)
			}
			return nil, corerr.Newf(corerr.KindUnavailable, "no wire adapter registered for exchange %s", ex)
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
