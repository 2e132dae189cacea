package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-cert-api/internal/bootstrap"
	"github.com/noah-isme/campus-cert-api/pkg/config"
	"github.com/noah-isme/campus-cert-api/pkg/logger"
)

const programName = "certctl"

func main() {
	root := rootCommand(loadOperator)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadOperator wires the same services the API server runs on.
func loadOperator(ctx context.Context) (*operator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logr = logr.With(zap.String("component", programName))

	container, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return nil, nil, err
	}
	op := &operator{
		anchors:   container.Issuance,
		queue:     container.AnchorQueue,
		gateway:   container.Gateway,
		documents: container.Documents,
		tokens:    container.Auth,
	}
	closer := func() {
		container.Close()
		_ = logr.Sync()
	}
	return op, closer, nil
}
