package captcha

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// imageScanScript looks for puzzle images in well-known globals and then in
// any inline data: images, in page order.
const imageScanScript = `() => {
	for (const key of ['captchaData', '__captcha__', 'sliderCaptcha']) {
		const data = window[key];
		if (data && (data.backgroundImage || data.sliderImage)) {
			return {backgroundImage: data.backgroundImage || '', sliderImage: data.sliderImage || ''};
		}
	}
	const imgs = document.querySelectorAll('img[src^="data:image"]');
	if (imgs.length >= 2) {
		return {backgroundImage: imgs[0].src, sliderImage: imgs[1].src};
	}
	return null;
}`

// Pacer gates calls to the recognition service.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Recorder receives one record per attempt.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

// AttemptRecord is the persisted summary of an attempt.
type AttemptRecord struct {
	RunID       string
	Attempt     int
	GapX        int
	GapFallback bool
	Scale       float64
	Distance    int
	Steps       int
	Outcome     AttemptOutcome
	Reason      string
	CreatedAt   time.Time
}

// AttemptReport describes a single trigger-to-verdict cycle.
type AttemptReport struct {
	Attempt      int
	Outcome      AttemptOutcome
	ShortCircuit bool // slider never appeared
	Halt         bool // nothing to retry, e.g. the trigger is gone
	Gap          GapResult
	Geometry     SlideGeometry
	Distance     DragDistance
	Steps        int
	Err          error
}

// Result is the verdict of a whole run.
type Result struct {
	RunID     string
	Outcome   AttemptOutcome
	Attempts  int
	Exhausted bool
	Halted    bool
	Reports   []AttemptReport
}

// ShortCircuit reports whether the run ended because no slider was shown.
func (r Result) ShortCircuit() bool {
	return len(r.Reports) > 0 && r.Reports[len(r.Reports)-1].ShortCircuit
}

// Solver runs the bounded retry loop around a single browser page.
type Solver struct {
	cfg        Config
	page       Page
	resolver   Resolver
	normalizer *Normalizer
	synth      *Synthesizer
	executor   *Executor
	pacer      Pacer
	recorder   Recorder
	logger     *logrus.Logger
	state      State
}

// NewSolver wires the pipeline. resolver may be nil, in which case an
// HTTPResolver for cfg.ServiceEndpoint is used.
func NewSolver(cfg Config, page Page, resolver Resolver, logger *logrus.Logger) *Solver {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if resolver == nil {
		resolver = NewHTTPResolver(cfg, rng, logger)
	}
	return &Solver{
		cfg:        cfg,
		page:       page,
		resolver:   resolver,
		normalizer: NewNormalizer(logger),
		synth:      NewSynthesizer(rng),
		executor:   NewExecutor(cfg.Pauses, rng, logger),
		logger:     logger,
		state:      StateAwaitingTrigger,
	}
}

// SetRand replaces the randomness source of the trajectory and drag pauses.
func (s *Solver) SetRand(rng *rand.Rand) {
	s.synth = NewSynthesizer(rng)
	s.executor = NewExecutor(s.cfg.Pauses, rng, s.logger)
}

// SetPacer installs a gate in front of the recognition service.
func (s *Solver) SetPacer(p Pacer) {
	s.pacer = p
}

// SetRecorder installs an attempt journal.
func (s *Solver) SetRecorder(r Recorder) {
	s.recorder = r
}

// State returns the state the loop is currently in.
func (s *Solver) State() State {
	return s.state
}

// Run triggers the captcha and retries up to MaxRetries times, reloading the
// page after every unsolved attempt. It never returns an error: exhaustion is
// reported through Result.Exhausted.
func (s *Solver) Run(ctx context.Context) Result {
	maxAttempts := s.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	result := Result{RunID: uuid.NewString()}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			s.logger.WithError(ctx.Err()).Warn("Captcha run cancelled")
			break
		}

		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     maxAttempts,
			"site":    s.cfg.SiteBaseURL,
		}).Info("Starting captcha attempt")

		report := s.Attempt(ctx, attempt)
		result.Attempts = attempt
		result.Reports = append(result.Reports, report)
		s.record(ctx, result.RunID, report)

		if report.Outcome.Accepted() {
			result.Outcome = report.Outcome
			return result
		}
		if report.Halt {
			result.Halted = true
			result.Outcome = OutcomeUnsolved
			return result
		}

		s.logger.WithError(report.Err).WithField("attempt", attempt).Warn("Captcha attempt failed, reloading")
		if err := s.page.Reload(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to reload page")
		}
		if err := sleep(ctx, s.cfg.ReloadDelay); err != nil {
			break
		}
	}

	s.logger.WithField("attempts", result.Attempts).Warn("Captcha retries exhausted")
	result.Outcome = OutcomeUnsolved
	result.Exhausted = true
	return result
}

// Attempt runs one trigger → slider → drag → verify cycle.
func (s *Solver) Attempt(ctx context.Context, n int) AttemptReport {
	report := AttemptReport{Attempt: n}
	sel := s.cfg.Selectors

	s.state = StateAwaitingTrigger
	hasTrigger, err := s.page.Has(ctx, sel.Trigger)
	if err != nil {
		report.Err = newError(KindInteraction, "find trigger", err)
		return s.finish(report, OutcomeUnsolved)
	}
	if !hasTrigger {
		report.Err = newError(KindMissingElement, "find trigger", fmt.Errorf("selector %q not found", sel.Trigger))
		report.Halt = true
		return s.finish(report, OutcomeUnsolved)
	}
	if err := s.page.Click(ctx, sel.Trigger); err != nil {
		report.Err = newError(KindInteraction, "click trigger", err)
		return s.finish(report, OutcomeUnsolved)
	}

	present, err := s.page.WaitFor(ctx, sel.Handle, s.cfg.HandleTimeout)
	if err != nil {
		report.Err = newError(KindInteraction, "wait for slider", err)
		return s.finish(report, OutcomeUnsolved)
	}
	if !present {
		s.logger.Info("Slider not shown, no captcha needed")
		report.ShortCircuit = true
		return s.finish(report, OutcomeSolved)
	}

	s.state = StateSliderPresented
	if err := sleep(ctx, s.cfg.ImageLoadDelay); err != nil {
		report.Err = newError(KindInteraction, "wait for images", err)
		return s.finish(report, OutcomeUnsolved)
	}

	background, tile := s.extractImages(ctx)
	if !background.Empty() && !tile.Empty() {
		report.Gap = s.resolve(ctx, background, tile)
		report.Geometry = s.measure(ctx)
		report.Distance = Reconcile(report.Gap.X, report.Geometry, s.cfg.HandleCenterRatio)
	} else {
		fallback := s.resolver.FallbackDistance()
		report.Gap = GapResult{
			X:        GapCoordinate(fallback),
			Fallback: true,
			Err:      newError(KindMissingElement, "extract images", fmt.Errorf("puzzle images not found")),
		}
		report.Distance = DragDistance(fallback)
		s.logger.WithField("distance", fallback).Warn("Puzzle images not found, using fallback distance")
	}

	s.logger.WithFields(logrus.Fields{
		"gap_x":    int(report.Gap.X),
		"fallback": report.Gap.Fallback,
		"scale":    report.Geometry.Scale(),
		"distance": int(report.Distance),
	}).Info("Drag distance computed")

	if report.Distance <= 0 {
		report.Err = newError(KindGeometryUnavailable, "reconcile", fmt.Errorf("degenerate distance %d", report.Distance))
		return s.finish(report, OutcomeUnsolved)
	}

	handleBox, err := s.page.BoundingBox(ctx, sel.Handle)
	if err != nil {
		report.Err = newError(KindGeometryUnavailable, "locate handle", err)
		return s.finish(report, OutcomeUnsolved)
	}

	s.state = StateDragging
	track := s.synth.Generate(report.Distance)
	report.Steps = len(track)
	if err := s.executor.Drag(ctx, s.page, handleBox.Center(), track); err != nil {
		report.Err = err
		return s.finish(report, OutcomeUnsolved)
	}

	s.state = StateVerifying
	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		report.Err = newError(KindInteraction, "settle", err)
		return s.finish(report, OutcomeUnsolved)
	}
	return s.verify(ctx, report)
}

func (s *Solver) verify(ctx context.Context, report AttemptReport) AttemptReport {
	still, err := s.page.Has(ctx, s.cfg.Selectors.Handle)
	if err == nil && !still {
		s.logger.Info("Slider disappeared, captcha solved")
		return s.finish(report, OutcomeSolved)
	}

	content, err := s.page.Content(ctx)
	if err == nil && containsAny(content, s.cfg.SuccessMarkers) {
		s.logger.Info("Success marker found, captcha solved")
		return s.finish(report, OutcomeSolved)
	}

	s.logger.Info("Captcha outcome unclear, continuing")
	report.Err = newError(KindAmbiguousOutcome, "verify", nil)
	return s.finish(report, OutcomeIndeterminate)
}

func (s *Solver) finish(report AttemptReport, outcome AttemptOutcome) AttemptReport {
	report.Outcome = outcome
	if outcome == OutcomeUnsolved {
		s.state = StateUnsolved
	} else {
		s.state = StateSolved
	}
	return report
}

// extractImages tries direct attributes, then the page scan script, then
// element screenshots.
func (s *Solver) extractImages(ctx context.Context) (PuzzleImage, PuzzleImage) {
	sel := s.cfg.Selectors
	background := s.imageFromAttribute(ctx, sel.Background)
	tile := s.imageFromAttribute(ctx, sel.Tile)

	if background.Empty() || tile.Empty() {
		var found struct {
			BackgroundImage string `json:"backgroundImage"`
			SliderImage     string `json:"sliderImage"`
		}
		if err := s.page.Eval(ctx, imageScanScript, &found); err != nil {
			s.logger.WithError(err).Debug("Image scan script failed")
		} else {
			if background.Empty() {
				background = s.imageFromURI(found.BackgroundImage, "script background")
			}
			if tile.Empty() {
				tile = s.imageFromURI(found.SliderImage, "script tile")
			}
		}
	}

	if background.Empty() {
		background = s.imageFromScreenshot(ctx, sel.Background)
	}
	if tile.Empty() {
		tile = s.imageFromScreenshot(ctx, sel.Tile)
	}
	return background, tile
}

func (s *Solver) imageFromAttribute(ctx context.Context, selector string) PuzzleImage {
	src, err := s.page.Attribute(ctx, selector, "src")
	if err != nil {
		s.logger.WithError(err).WithField("selector", selector).Debug("Failed to read image src")
		return PuzzleImage{}
	}
	return s.imageFromURI(src, selector)
}

func (s *Solver) imageFromURI(src, source string) PuzzleImage {
	if !strings.HasPrefix(src, "data:image") {
		return PuzzleImage{}
	}
	img, err := ParseDataURI(src)
	if err != nil {
		s.logger.WithError(err).WithField("source", source).Debug("Failed to parse image data")
		return PuzzleImage{}
	}
	s.logger.WithFields(logrus.Fields{
		"source":  source,
		"size_kb": img.SizeKB(),
	}).Debug("Puzzle image extracted")
	return img
}

func (s *Solver) imageFromScreenshot(ctx context.Context, selector string) PuzzleImage {
	has, err := s.page.Has(ctx, selector)
	if err != nil || !has {
		return PuzzleImage{}
	}
	data, err := s.page.Screenshot(ctx, selector)
	if err != nil || len(data) == 0 {
		s.logger.WithError(err).WithField("selector", selector).Debug("Element screenshot failed")
		return PuzzleImage{}
	}
	return NewPuzzleImage(data)
}

func (s *Solver) resolve(ctx context.Context, background, tile PuzzleImage) GapResult {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			gap := s.resolver.FallbackDistance()
			s.logger.WithError(err).WithField("gap_x", gap).Warn("Recognition call not permitted, using fallback offset")
			return GapResult{X: GapCoordinate(gap), Fallback: true, Err: newError(KindTransientNetwork, "pace", err)}
		}
	}
	bg := s.normalizer.Normalize(background, s.cfg.SizeBudgets.BackgroundKB)
	front := s.normalizer.Normalize(tile, s.cfg.SizeBudgets.TileKB)
	return s.resolver.Resolve(ctx, bg, front)
}

// measure reads the layout boxes. Missing boxes leave zero widths, which
// Reconcile treats as "skip this correction".
func (s *Solver) measure(ctx context.Context) SlideGeometry {
	sel := s.cfg.Selectors
	geom := SlideGeometry{NativeWidth: s.cfg.NativeWidth}

	bgBox, bgErr := s.page.BoundingBox(ctx, sel.Background)
	if bgErr != nil {
		s.logger.WithError(newError(KindGeometryUnavailable, "background box", bgErr)).Debug("Using scale 1.0")
	} else {
		geom.RenderedWidth = bgBox.Width
	}

	if tileBox, err := s.page.BoundingBox(ctx, sel.Tile); err != nil {
		s.logger.WithError(newError(KindGeometryUnavailable, "tile box", err)).Debug("Skipping centring correction")
	} else {
		geom.HandleWidth = tileBox.Width
	}

	if sel.TileContainer != "" {
		if box, err := s.page.BoundingBox(ctx, sel.TileContainer); err == nil {
			geom.HandleOffset = box.X
			if bgErr == nil {
				geom.HandleOffset = box.X - bgBox.X
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"rendered_width": geom.RenderedWidth,
		"handle_width":   geom.HandleWidth,
		"handle_offset":  geom.HandleOffset,
	}).Debug("Slide geometry measured")
	return geom
}

func (s *Solver) record(ctx context.Context, runID string, report AttemptReport) {
	if s.recorder == nil {
		return
	}
	reason := ""
	if report.Err != nil {
		reason = report.Err.Error()
	}
	rec := AttemptRecord{
		RunID:       runID,
		Attempt:     report.Attempt,
		GapX:        int(report.Gap.X),
		GapFallback: report.Gap.Fallback,
		Scale:       report.Geometry.Scale(),
		Distance:    int(report.Distance),
		Steps:       report.Steps,
		Outcome:     report.Outcome,
		Reason:      reason,
		CreatedAt:   time.Now(),
	}
	if err := s.recorder.RecordAttempt(ctx, rec); err != nil {
		s.logger.WithError(err).Warn("Failed to record captcha attempt")
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
