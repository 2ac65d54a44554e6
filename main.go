package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krau/agridoctor/advice"
	"github.com/krau/agridoctor/classifier"
	"github.com/krau/agridoctor/config"
	"github.com/krau/agridoctor/diagnosis"
	"github.com/krau/agridoctor/onnx"
	"github.com/krau/agridoctor/server"
	"github.com/krau/agridoctor/service"
	"github.com/krau/agridoctor/session"
	"github.com/krau/agridoctor/telemetry"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.Init(""); err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg := config.C()

	_, logFile, err := telemetry.InitLogger(cfg.LogDir, slog.LevelInfo)
	if err != nil {
		slog.Error("Failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer logFile.Close()
	slog.Info("Starting Agri-Doctor", slog.String("version", version), slog.String("provider", cfg.Provider))

	if cfg.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, version)
		if err != nil {
			slog.Warn("Telemetry disabled", slog.String("error", err.Error()))
		} else {
			defer shutdown()
		}
	}

	labels := diagnosis.DefaultLabels
	if cfg.ModelLabelsName != "" {
		labels, err = diagnosis.ReadLabels(filepath.Join(cfg.ModelDir, cfg.ModelLabelsName))
		if err != nil {
			slog.Error("Failed to read labels", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// The page still serves without a model; analyses report it as unavailable.
	var predictor service.Predictor
	if err := onnx.Init(); err != nil {
		slog.Error("Failed to initialize ONNX Runtime environment", slog.String("error", err.Error()))
	} else {
		defer onnx.Destroy()
		clf, err := classifier.Load(classifier.Options{
			ModelPath:  filepath.Join(cfg.ModelDir, cfg.ModelFileName),
			Labels:     labels,
			ImageSize:  cfg.ImageSize,
			PixelScale: cfg.PixelScale,
			Activation: cfg.Activation,
			PoolSize:   cfg.PoolSize,
		})
		if err != nil {
			slog.Error("Failed to load model", slog.String("error", err.Error()))
		} else {
			defer clf.Close()
			predictor = clf
		}
	}

	advisor, err := advice.New(cfg)
	if err != nil {
		slog.Error("Failed to create advice client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	doctor := service.New(predictor, advisor, labels, cfg.Threshold)
	store := session.NewStore(time.Duration(cfg.SessionTTLMinutes) * time.Minute)
	handler := server.NewHandler(doctor, store, server.Options{
		Provider:    cfg.Provider,
		MaxUploadMB: cfg.MaxUploadMB,
	})

	gin.SetMode(gin.ReleaseMode)
	r, err := server.NewRouter(handler)
	if err != nil {
		slog.Error("Failed to initialize server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: r,
	}
	slog.Info("Listening on", slog.String("address", srv.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown server", slog.String("error", err.Error()))
	}
}
