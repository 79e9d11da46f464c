package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/features"
	"github.com/andresuchdata/demandcast/internal/storage"
)

// Artifact is the serialized output of an offline training run.
type Artifact struct {
	Version     string           `json:"version"`
	TrainedAt   string           `json:"trained_at,omitempty"`
	Weights     []float64        `json:"weights"`
	Intercept   float64          `json:"intercept"`
	ResidualStd float64          `json:"residual_std"`
	Schema      features.Schema  `json:"schema"`
	Scaler      *features.Scaler `json:"scaler"`
}

// Validate checks the artifact is internally consistent.
func (a *Artifact) Validate() error {
	if len(a.Weights) == 0 {
		return fmt.Errorf("%w: artifact %q has no weights", domain.ErrModelUnavailable, a.Version)
	}
	if err := a.Schema.Validate(); err != nil {
		return err
	}
	if err := a.Scaler.Check(); err != nil {
		return err
	}
	if dim := a.Schema.Dim(); dim != len(a.Weights) {
		return fmt.Errorf("%w: artifact has %d weights, schema produces %d features",
			domain.ErrFeatureMismatch, len(a.Weights), dim)
	}
	if a.ResidualStd < 0 || math.IsNaN(a.ResidualStd) {
		return fmt.Errorf("%w: invalid residual_std %v", domain.ErrModelUnavailable, a.ResidualStd)
	}
	return nil
}

// DecodeArtifact reads and validates an artifact.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", domain.ErrModelUnavailable, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadArtifact loads an artifact from a local path or an s3://bucket/key URI.
// objects may be nil when only local paths are used.
func LoadArtifact(ctx context.Context, source string, objects storage.ObjectStorage) (*Artifact, error) {
	bucket, key, remote, err := storage.ParseURI(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	var rc io.ReadCloser
	if remote {
		if objects == nil {
			return nil, fmt.Errorf("%w: %s requires object storage to be configured", domain.ErrModelUnavailable, source)
		}
		rc, err = objects.GetObject(ctx, bucket, key)
	} else {
		rc, err = os.Open(source)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrModelUnavailable, source, err)
	}
	defer rc.Close()

	a, err := DecodeArtifact(rc)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("source", source).
		Str("version", a.Version).
		Int("input_dim", len(a.Weights)).
		Float64("residual_std", a.ResidualStd).
		Msg("Loaded forecast model artifact")

	return a, nil
}
