// Package trigger gates which pipeline discoveries escalate into deep
// investigations.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/metrics"
)

// Config holds the gate's decision thresholds. All values are
// overridable via settings; zero values take the documented defaults.
type Config struct {
	Enabled bool
	// MinQuality is stricter than the pipeline's own acceptance floor:
	// only high-quality discoveries justify deep investigation cost.
	MinQuality    float64
	MinConfidence float64
	// MaxPerWindow bounds auto-triggered investigations in the trailing
	// Window (a soft, sliding-window limit).
	MaxPerWindow int
	Window       time.Duration
	// FacilitySpacing is the minimum gap between auto-triggered
	// investigations referencing the same facility.
	FacilitySpacing time.Duration
	// EvaluateTimeout bounds one background evaluation.
	EvaluateTimeout time.Duration
	// MaxInFlight bounds outstanding background evaluations; beyond it,
	// evaluations are dropped with a warning rather than blocking the
	// pipeline.
	MaxInFlight int
}

func (c Config) withDefaults() Config {
	if c.MinQuality <= 0 {
		c.MinQuality = 60.0
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.85
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = 5
	}
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.FacilitySpacing <= 0 {
		c.FacilitySpacing = time.Hour
	}
	if c.EvaluateTimeout <= 0 {
		c.EvaluateTimeout = 30 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 32
	}
	return c
}

// Gate evaluates trigger candidates and, on approval, creates an
// investigation record and hands it to the task queue.
type Gate struct {
	cfg            Config
	investigations discovery.InvestigationStore
	queue          discovery.TaskQueue
	clock          discovery.Clock
	ids            discovery.IDGenerator
	logger         *zap.Logger

	inFlight  chan struct{}
	wg        sync.WaitGroup
	triggered atomic.Int64
}

// New constructs a Gate.
func New(
	cfg Config,
	investigations discovery.InvestigationStore,
	queue discovery.TaskQueue,
	clock discovery.Clock,
	ids discovery.IDGenerator,
	logger *zap.Logger,
) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{
		cfg:            cfg,
		investigations: investigations,
		queue:          queue,
		clock:          clock,
		ids:            ids,
		logger:         logger,
		inFlight:       make(chan struct{}, cfg.MaxInFlight),
	}
}

// Triggered returns how many investigations this gate has created.
func (g *Gate) Triggered() int64 {
	return g.triggered.Load()
}

// EvaluateAsync runs Evaluate in the background. Failures are logged
// and swallowed; the caller is never blocked beyond the in-flight cap.
func (g *Gate) EvaluateAsync(candidate discovery.TriggerCandidate) {
	select {
	case g.inFlight <- struct{}{}:
	default:
		g.logger.Warn("trigger evaluation dropped, too many in flight",
			zap.String("url", candidate.Image.URL))
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() { <-g.inFlight }()

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.EvaluateTimeout)
		defer cancel()
		if _, err := g.Evaluate(ctx, candidate); err != nil {
			g.logger.Warn("trigger evaluation failed",
				zap.String("url", candidate.Image.URL),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for outstanding background evaluations to finish.
func (g *Gate) Close() {
	g.wg.Wait()
}

// ShouldTrigger applies the gate's checks in order; the first failing
// check wins and its reason is returned.
func (g *Gate) ShouldTrigger(ctx context.Context, c discovery.TriggerCandidate) (bool, string, error) {
	// Matches against existing individuals carry no new information and
	// never trigger, regardless of quality or confidence.
	if !c.IsNew {
		return false, "individual already known", nil
	}
	if !g.cfg.Enabled {
		return false, "auto-trigger disabled", nil
	}
	if c.QualityScore < g.cfg.MinQuality {
		return false, fmt.Sprintf("Quality score %.1f below threshold %.1f", c.QualityScore, g.cfg.MinQuality), nil
	}
	if c.DetectionConfidence < g.cfg.MinConfidence {
		return false, fmt.Sprintf("Detection confidence %.2f below threshold %.2f", c.DetectionConfidence, g.cfg.MinConfidence), nil
	}

	now := g.clock.Now()
	recent, err := g.investigations.CountAutoSince(ctx, now.Add(-g.cfg.Window))
	if err != nil {
		return false, "", fmt.Errorf("count recent investigations: %w", err)
	}
	if recent >= g.cfg.MaxPerWindow {
		return false, fmt.Sprintf("Rate limit reached: %d auto investigations in the trailing window", recent), nil
	}

	latest, err := g.investigations.LatestAutoForFacility(ctx, c.Facility.ID)
	if err != nil {
		return false, "", fmt.Errorf("latest facility investigation: %w", err)
	}
	if latest != nil && now.Sub(*latest) < g.cfg.FacilitySpacing {
		return false, fmt.Sprintf("Facility cooldown: last investigation %s ago", now.Sub(*latest).Round(time.Second)), nil
	}

	exists, err := g.investigations.ExistsForHash(ctx, c.Image.ContentHash)
	if err != nil {
		return false, "", fmt.Errorf("duplicate investigation lookup: %w", err)
	}
	if exists {
		return false, "investigation already exists for this image", nil
	}
	return true, "approved", nil
}

// Evaluate applies ShouldTrigger and, on approval, creates the
// investigation and enqueues it for deep processing. A queueing failure
// cancels the just-created record and returns nil rather than an error,
// so the record is never left active-but-unprocessed.
func (g *Gate) Evaluate(ctx context.Context, c discovery.TriggerCandidate) (*discovery.Investigation, error) {
	ok, reason, err := g.ShouldTrigger(ctx, c)
	if err != nil {
		return nil, err
	}
	if !ok {
		g.logger.Debug("trigger rejected",
			zap.String("url", c.Image.URL),
			zap.String("reason", reason),
		)
		return nil, nil
	}

	id, err := g.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate investigation id: %w", err)
	}
	investigation := discovery.Investigation{
		ID:          id,
		Title:       fmt.Sprintf("Auto-discovery: possible new tiger at %s", c.Facility.Name),
		Status:      discovery.InvestigationStatusPending,
		Priority:    priorityFor(c.DetectionConfidence, c.QualityScore),
		Source:      discovery.SourceAutoDiscovery,
		FacilityIDs: []int64{c.Facility.ID},
		ContentHash: c.Image.ContentHash,
		CreatedAt:   g.clock.Now(),
	}
	if err := g.investigations.Create(ctx, investigation); err != nil {
		return nil, fmt.Errorf("create investigation: %w", err)
	}

	meta := map[string]string{
		"source_url":    c.Image.SourceURL,
		"image_url":     c.Image.URL,
		"facility_name": c.Facility.Name,
		"individual_id": c.IndividualID,
	}
	if err := g.queue.Enqueue(ctx, investigation.ID, c.ImageBytes, meta); err != nil {
		g.logger.Warn("investigation queueing failed, cancelling",
			zap.String("investigation_id", investigation.ID),
			zap.Error(err),
		)
		if cancelErr := g.investigations.MarkCancelled(ctx, investigation.ID); cancelErr != nil {
			g.logger.Error("cancel investigation failed",
				zap.String("investigation_id", investigation.ID),
				zap.Error(cancelErr),
			)
		}
		return nil, nil
	}

	g.triggered.Add(1)
	metrics.CountInvestigationTriggered(string(investigation.Priority))
	g.logger.Info("investigation triggered",
		zap.String("investigation_id", investigation.ID),
		zap.String("priority", string(investigation.Priority)),
		zap.Int64("facility_id", c.Facility.ID),
	)
	return &investigation, nil
}

// priorityFor maps the combined confidence/quality score to a band.
func priorityFor(confidence, qualityScore float64) discovery.InvestigationPriority {
	combined := (confidence*100 + qualityScore) / 2
	switch {
	case combined >= 90:
		return discovery.PriorityHigh
	case combined >= 75:
		return discovery.PriorityMedium
	default:
		return discovery.PriorityLow
	}
}
