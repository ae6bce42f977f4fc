package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
	"github.com/lifetrace-ai/lifetrace/pkg/storage"
)

// ReflectionReader reads stored reflections. Satisfied by
// storage.ReflectionRepo.
type ReflectionReader interface {
	GetByDate(ctx context.Context, username, date string) (*models.DailyReflection, error)
}

// ReflectionGenerator produces a reflection on demand. Satisfied by
// analyzer.Reflector.
type ReflectionGenerator interface {
	GenerateDaily(ctx context.Context, username, date string) (bool, error)
}

// ReflectionService serves the daily-reflection read path, generating on
// first read.
type ReflectionService struct {
	reflections ReflectionReader
	generator   ReflectionGenerator
}

// NewReflectionService creates the service.
func NewReflectionService(reflections ReflectionReader, generator ReflectionGenerator) *ReflectionService {
	if reflections == nil || generator == nil {
		panic("services.NewReflectionService: reflections and generator must not be nil")
	}
	return &ReflectionService{reflections: reflections, generator: generator}
}

// GetByDate returns the reflection for a local date, generating it from the
// day's events when none is stored yet. A day with no events has no
// reflection and returns ErrNotFound.
func (s *ReflectionService) GetByDate(ctx context.Context, username, date string) (*models.DailyReflection, error) {
	if _, err := parseDate(date, time.UTC); err != nil {
		return nil, err
	}

	ref, err := s.reflections.GetByDate(ctx, username, date)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get reflection: %w", err)
	}

	written, err := s.generator.GenerateDaily(ctx, username, date)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("generate reflection: %w", err)
	}
	if !written {
		return nil, fmt.Errorf("no events on %s: %w", date, ErrNotFound)
	}

	ref, err = s.reflections.GetByDate(ctx, username, date)
	if err != nil {
		return nil, fmt.Errorf("reread reflection: %w", err)
	}
	return ref, nil
}
