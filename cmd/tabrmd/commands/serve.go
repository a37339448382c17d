package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/abrmd-go/tabrmd/internal/broker"
	"github.com/abrmd-go/tabrmd/internal/config"
	"github.com/abrmd-go/tabrmd/internal/connref"
	"github.com/abrmd-go/tabrmd/internal/logger"
	"github.com/abrmd-go/tabrmd/internal/metrics"
	"github.com/abrmd-go/tabrmd/internal/tpm2framing"
	"github.com/abrmd-go/tabrmd/internal/tpm2header"
	"github.com/abrmd-go/tabrmd/internal/transport/simulator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the access broker daemon",
	Long: `Dial the configured TPM transport, initialize the TPM, and listen for
client connections. Each connection's framed commands are forwarded to the
broker one at a time; this listener stands in for the project's D-Bus
surface and carries no authorization.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := config.New(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var brokerMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		brokerMetrics = metrics.New(reg)

		metricsSrv := &http.Server{
			Addr:    cfg.Metrics.Addr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
	} else {
		brokerMetrics = metrics.Null()
	}

	tr, err := simulator.Dial(ctx, cfg.Broker.SimulatorAddr)
	if err != nil {
		return fmt.Errorf("dial simulator transport: %w", err)
	}
	defer tr.Close()
	log.Info("dialed simulator transport", "addr", cfg.Broker.SimulatorAddr)

	b := broker.New(tr,
		broker.WithLogger(log),
		broker.WithReceiveTimeout(cfg.Broker.ReceiveTimeout),
		broker.WithMetrics(brokerMetrics),
	)
	if err := b.InitTPM(ctx); err != nil {
		return fmt.Errorf("init TPM: %w", err)
	}
	log.Info("TPM initialized")
	defer func() {
		b.FlushAllContexts(context.Background())
		_ = b.Close()
	}()

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("listening for client connections", "addr", cfg.Server.ListenAddr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var connWG sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				connWG.Wait()
				return nil
			default:
				log.Error("accept failed", "error", err)
				continue
			}
		}

		connWG.Add(1)
		go func() {
			defer connWG.Done()
			serveConn(ctx, b, conn, log)
		}()
	}
}

// serveConn frames and forwards every command on conn to the broker,
// one at a time, until the connection errs out or ctx is cancelled.
func serveConn(ctx context.Context, b *broker.Broker, conn net.Conn, log *slog.Logger) {
	defer conn.Close()

	connID := uuid.NewString()
	connLC := logger.NewLogContext(connID)
	ref := connref.NewRef(connID, func() {
		logger.WithLogContext(log, logger.WithContext(ctx, connLC)).Debug("connection released")
	})
	defer ref.Release()

	log.Info("client connected", logger.ConnectionID(connID), logger.RemoteAddr(conn.RemoteAddr().String()))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmdBytes, err := tpm2framing.ReadFramedAlloc(ctx, conn, 30*time.Second)
		if err != nil {
			logger.WithLogContext(log, logger.WithContext(ctx, connLC)).Debug("client connection closed", logger.Err(err))
			return
		}

		cmdLC := connLC
		if hdr, err := tpm2header.Decode(cmdBytes); err == nil {
			cmdLC = connLC.WithCommand(hdr.Tag, hdr.Code)
		}
		cmdCtx := logger.WithContext(ctx, cmdLC)

		resp := b.SendCommand(cmdCtx, broker.Command{
			Bytes:      cmdBytes,
			Size:       uint32(len(cmdBytes)),
			Connection: ref,
			Attributes: broker.CommandAttributes{ConnectionID: connID},
		})
		// Drop the reference SendCommand cloned for this Response.
		if resp.Connection != nil {
			resp.Connection.Release()
		}

		if len(resp.Bytes) == 0 {
			logger.WithLogContext(log, cmdCtx).Warn("command failed, closing connection", logger.RC(resp.RC))
			return
		}
		if _, err := conn.Write(resp.Bytes); err != nil {
			logger.WithLogContext(log, cmdCtx).Debug("write to client failed", logger.Err(err))
			return
		}
	}
}
