// Command multivesc loads a bus and motor configuration, keeps the motors
// refreshed and optionally exposes them over MQTT, HTTP and an interactive
// shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notnil/multivesc"
	"github.com/notnil/multivesc/config"
	"github.com/notnil/multivesc/httpapi"
	"github.com/notnil/multivesc/mqttpub"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "multivesc:", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	configPath := flag.String("config", env.ConfigPath, "configuration file (YAML or JSON)")
	canDevice := flag.String("can", "", "skip the configuration and open this CAN device")
	httpAddr := flag.String("http", env.HTTPAddr, "serve the HTTP API on this address")
	broker := flag.String("mqtt", env.MQTTBroker, "publish telemetry to this MQTT broker")
	interactive := flag.Bool("shell", false, "start an interactive shell")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level, err := env.Level()
	if err != nil {
		return err
	}
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := multivesc.New(multivesc.WithLogger(logger))
	defer mgr.Stop()

	if *canDevice != "" {
		if err := mgr.OpenCAN(*canDevice); err != nil {
			return err
		}
	} else {
		cfg, err := config.Load(*configPath)
		if cfg == nil {
			return err
		}
		if err != nil {
			logger.Warn("configuration has invalid entries", "path", *configPath, "error", err)
		}
		if err := mgr.Configure(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("configure", "error", err)
		}
	}

	if *broker != "" {
		client, err := mqttpub.Dial(*broker, "", 10*time.Second, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		mqttpub.New(client, env.MQTTPrefix, mqttpub.WithLogger(logger)).AttachAll(mgr.Motors())
	}

	if *httpAddr != "" {
		srv := &http.Server{
			Addr:              *httpAddr,
			Handler:           httpapi.NewRouter(mgr, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", "error", err)
				stop()
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		logger.Info("http api listening", "addr", *httpAddr)
	}

	if *interactive {
		runShell(ctx, mgr)
		return nil
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
