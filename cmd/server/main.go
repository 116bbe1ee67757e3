package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webterm/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("webterm", pflag.ContinueOnError)
	port := flags.String("port", cfg.Server.Port, "HTTP listen port")
	dev := flags.Bool("dev", cfg.Logging.Development, "development mode (colored logs, debug level)")
	seed := flags.String("seed", cfg.Store.SeedPath, "YAML file of sessions, members and plans to load into the store")
	check := flags.Bool("check", false, "query the gRPC health service and exit")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Println("webterm", server.Version)
		return nil
	}

	cfg.Server.Port = *port
	cfg.Store.SeedPath = *seed
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	if *check {
		return checkHealth(cfg.Ops.GRPCHealthAddr)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

// checkHealth exits non-zero unless the local server reports SERVING
func checkHealth(addr string) error {
	tracer := tracing.New("webterm-check", zap.NewNop())
	defer tracer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Listen addresses like ":8001" need a host to dial
	if host, port, err := net.SplitHostPort(addr); err == nil && host == "" {
		addr = net.JoinHostPort("localhost", port)
	}

	status, err := server.Check(ctx, addr, tracer)
	if err != nil {
		return err
	}
	fmt.Println(status)
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server is %s", status)
	}
	return nil
}
