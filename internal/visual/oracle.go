// Package visual defines the visual-oracle contract and the screenshot
// retention store backing it. How visual judgment is produced is external;
// this package fixes the shapes, the score bounds and the housekeeping.
package visual

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
)

// ErrOracleUnavailable reports that no visual analyzer is integrated.
var ErrOracleUnavailable = errors.New("visual oracle unavailable")

// CompareResult is the verdict from comparing a current screenshot against
// a stored baseline.
type CompareResult struct {
	Matches     bool     `json:"matches"`
	Differences []string `json:"differences"`
}

// Oracle judges screenshots and owns their retention. Analyze and Compare
// are external capabilities; StoreScreenshot and EvictStale are the
// housekeeping half every deployment carries.
type Oracle interface {
	Start(ctx context.Context) error
	Stop() error
	StoreScreenshot(ctx context.Context, imageData, ownerID string) (string, error)
	Analyze(ctx context.Context, ref, instructions string, expect spec.Expectations) (*result.VisualAnalysis, error)
	Compare(ctx context.Context, baselineRef, currentRef string, tolerance float64) (*CompareResult, error)
	EvictStale(maxAge time.Duration) (int, error)
}

// ClampScores bounds each score to [0,100]. Oracle integrations are not
// trusted to stay in range.
func ClampScores(s result.Scores) result.Scores {
	s.Layout = clampScore(s.Layout)
	s.Accessibility = clampScore(s.Accessibility)
	s.Overall = clampScore(s.Overall)

	return s
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// oracle is the production Oracle: a disk-backed screenshot store with no
// analyzer integrated. Analyze and Compare report ErrOracleUnavailable
// until an integration replaces this implementation.
type oracle struct {
	log   logrus.FieldLogger
	store *ScreenshotStore
}

// NewOracle creates the disk-backed oracle rooted at dir.
func NewOracle(log logrus.FieldLogger, dir string) Oracle {
	return &oracle{
		log:   log.WithField("component", "visual_oracle"),
		store: NewScreenshotStore(log, dir),
	}
}

func (o *oracle) Start(ctx context.Context) error {
	return o.store.Start(ctx)
}

func (o *oracle) Stop() error {
	return o.store.Stop()
}

func (o *oracle) StoreScreenshot(ctx context.Context, imageData, ownerID string) (string, error) {
	return o.store.Put(ctx, imageData, ownerID)
}

func (o *oracle) Analyze(_ context.Context, ref, _ string, _ spec.Expectations) (*result.VisualAnalysis, error) {
	o.log.WithField("screenshot", ref).Debug("no analyzer integrated, skipping analysis")

	return nil, ErrOracleUnavailable
}

func (o *oracle) Compare(_ context.Context, baselineRef, currentRef string, _ float64) (*CompareResult, error) {
	o.log.WithFields(logrus.Fields{
		"baseline": baselineRef,
		"current":  currentRef,
	}).Debug("no analyzer integrated, skipping comparison")

	return nil, ErrOracleUnavailable
}

func (o *oracle) EvictStale(maxAge time.Duration) (int, error) {
	return o.store.EvictStale(maxAge)
}

// Compile-time interface compliance check
var _ Oracle = (*oracle)(nil)
