package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/wyfcoding/creditledger/internal/creditscore/interfaces/cli"
	grpcserver "github.com/wyfcoding/creditledger/internal/creditscore/interfaces/grpc"
	"github.com/wyfcoding/creditledger/pkg/config"
	"github.com/wyfcoding/creditledger/pkg/grpcclient"
)

var (
	configPath = flag.String("config", "configs/creditscore/config.toml", "config file path")
	target     = flag.String("target", "", "gRPC address, overrides grpc_client.target")
)

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, cli.Usage) }
	flag.Parse()
	if err := run(flag.Args()); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		slog.Error("creditctl failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	clientCfg := cfg.GRPCClient
	if *target != "" {
		clientCfg.Target = *target
	}
	if clientCfg.Target == "" {
		// 服务监听 0.0.0.0 时回环地址同样可达
		clientCfg.Target = "localhost:" + strconv.Itoa(cfg.GRPC.Port)
	}

	conn, err := grpcclient.NewClient(grpcclient.ClientConfig{
		Target:         clientCfg.Target,
		ConnTimeout:    clientCfg.ConnTimeout,
		RequestTimeout: clientCfg.RequestTimeout,
		MaxRetries:     clientCfg.MaxRetries,
		RetryDelay:     clientCfg.RetryDelay,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return cli.Run(ctx, grpcserver.NewClient(conn), args, os.Stdout)
}
