package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const heartbeatInterval = time.Minute

type runner interface {
	Run(ctx context.Context) error
}

// dependency is a named readiness probe checked before consuming.
type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Consumer     runner
	Dependencies []dependency
}

type Service struct {
	logg     *logger.Logger
	consumer runner
	deps     []dependency
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("payments consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.ping == nil {
			return nil, fmt.Errorf("%s probe is required", dep.name)
		}
	}
	return &Service{
		logg:     params.Logger,
		consumer: params.Consumer,
		deps:     params.Dependencies,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until the consumer exits or ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "consumer stopped unexpectedly", err)
				return err
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker.heartbeat")
		}
	}
}
