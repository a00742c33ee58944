package testdata

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/ZJUSCT/CSJudge/internal/config"
	"github.com/ZJUSCT/CSJudge/internal/contest"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Ref points a judgehost at the input and expected output of one test case.
// The locations are opaque to the coordinator.
type Ref struct {
	Rank   int    `json:"rank"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Sample bool   `json:"sample,omitempty"`
}

type Provider interface {
	References(ctx context.Context, p *contest.Problem) ([]Ref, error)
}

// Static resolves test cases to paths below the problem directory, for
// judgehosts sharing the contest file system.
type Static struct{}

func (Static) References(_ context.Context, p *contest.Problem) ([]Ref, error) {
	refs := make([]Ref, 0, len(p.Testcases))
	for _, tc := range p.Testcases {
		refs = append(refs, Ref{
			Rank:   tc.Rank,
			Input:  filepath.Join(p.BasePath, tc.Input),
			Output: filepath.Join(p.BasePath, tc.Output),
			Sample: tc.Sample,
		})
	}
	return refs, nil
}

// MinIO hands out presigned GET URLs for test data stored under
// problems/<problem id>/ in a bucket.
type MinIO struct {
	core   *minio.Core
	bucket string
	ttl    time.Duration
}

func NewMinIO(cfg config.MinIO) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio core failed: %w", err)
	}
	ttl := cfg.URLExpiry
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MinIO{core: core, bucket: cfg.Bucket, ttl: ttl}, nil
}

func ObjectKey(problemID, name string) string {
	return path.Join("problems", problemID, name)
}

func (m *MinIO) presign(ctx context.Context, key string) (string, error) {
	u, err := m.core.Presign(ctx, "GET", m.bucket, key, m.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("minio presign %s failed: %w", key, err)
	}
	return u.String(), nil
}

func (m *MinIO) References(ctx context.Context, p *contest.Problem) ([]Ref, error) {
	refs := make([]Ref, 0, len(p.Testcases))
	for _, tc := range p.Testcases {
		in, err := m.presign(ctx, ObjectKey(p.ID, tc.Input))
		if err != nil {
			return nil, err
		}
		out, err := m.presign(ctx, ObjectKey(p.ID, tc.Output))
		if err != nil {
			return nil, err
		}
		refs = append(refs, Ref{Rank: tc.Rank, Input: in, Output: out, Sample: tc.Sample})
	}
	return refs, nil
}
