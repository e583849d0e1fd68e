package services

import (
	"context"
	"fmt"

	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/repository"
)

// PassService handles pass issuance and artifact refresh. It is the only
// component that talks to the artifact producer; the device-facing
// protocol never does.
type PassService struct {
	passes    repository.PassRepo
	artifacts *ArtifactStore
	producer  ArtifactProducer
}

// NewPassService creates a new PassService
func NewPassService(passes repository.PassRepo, artifacts *ArtifactStore, producer ArtifactProducer) *PassService {
	return &PassService{
		passes:    passes,
		artifacts: artifacts,
		producer:  producer,
	}
}

// Issue asks the producer for a new signed pass, records it, and stores
// the artifact. The producer assigns the serial number and authentication
// token; push tokens are registration-time data and play no part here.
func (s *PassService) Issue(ctx context.Context, templateID, passTypeID string, properties map[string]string) (*models.Pass, error) {
	produced, err := s.producer.Produce(ctx, templateID, passTypeID, "", properties)
	if err != nil {
		return nil, fmt.Errorf("failed to produce pass: %w", err)
	}

	pass, err := models.NewPass(passTypeID, produced.SerialNumber, templateID, produced.AuthToken)
	if err != nil {
		return nil, err
	}

	created, err := s.passes.Add(ctx, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to persist pass: %w", err)
	}
	if !created {
		return nil, models.ErrPassExists
	}

	if err := s.artifacts.Store(pass.PassTypeID, pass.SerialNumber, produced.Artifact); err != nil {
		return nil, fmt.Errorf("failed to store pass artifact: %w", err)
	}

	return pass, nil
}

// Refresh regenerates the artifact for an existing pass with a changed
// property bag and overwrites the stored blob. It does not touch the
// update tag; that is the orchestrator's job.
func (s *PassService) Refresh(ctx context.Context, passTypeID, serialNumber string, properties map[string]string) error {
	pass, err := s.passes.Get(ctx, passTypeID, serialNumber)
	if err != nil {
		return fmt.Errorf("failed to look up pass: %w", err)
	}
	if pass == nil {
		return models.ErrPassNotFound
	}

	produced, err := s.producer.Produce(ctx, pass.TemplateID, passTypeID, serialNumber, properties)
	if err != nil {
		return fmt.Errorf("failed to produce pass: %w", err)
	}

	if err := s.artifacts.Store(passTypeID, serialNumber, produced.Artifact); err != nil {
		return fmt.Errorf("failed to store pass artifact: %w", err)
	}

	return nil
}
