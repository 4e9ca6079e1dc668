package stereo

import (
	"context"
	"fmt"
	"image"
	"io/ioutil"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abworrall/stereo-pprc/pkg/emath"
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// A Preprocessor aligns and normalizes stereo pairs. The matcher is only
// needed when the alignment method isn't "none"; the cameras are passed
// through to it untouched.
type Preprocessor struct {
	Config  Config
	Log     logrus.FieldLogger
	Matcher InterestPointMatcher

	LeftCamera, RightCamera Camera
}

type Request struct {
	LeftInput  string
	RightInput string
	OutPrefix  string
}

type Result struct {
	LeftOutput, RightOutput               string
	LeftAlignmentPath, RightAlignmentPath string
	LeftCropped, RightCropped             string // empty unless cropped
	MatchFile                             string // empty unless aligned

	CacheHit  bool
	Alignment Alignment

	LeftStats, RightStats Statistics
}

// OutputPaths fills in the names of all the files a run with the given
// prefix writes.
func OutputPaths(prefix string) Result {
	return Result{
		LeftOutput:         prefix + "-L.tif",
		RightOutput:        prefix + "-R.tif",
		LeftAlignmentPath:  prefix + "-align-L.tif",
		RightAlignmentPath: prefix + "-align-R.tif",
	}
}

// run holds everything a single invocation works out as it goes from
// state to state.
type run struct {
	*Preprocessor
	cfg Config
	req Request
	log logrus.FieldLogger
	res Result

	left, right             *raster.File
	leftPath, rightPath     string // the images actually being aligned
	leftNoData, rightNoData float64
	leftView, rightView     MaskedImage
	opened                  []*raster.File
}

// Run takes a stereo pair through the preprocessing states, from the
// cache check to the final writes. A failure in any state stops the run
// and comes back as a *StageError; the final outputs are only renamed
// into place once both are complete.
func (p *Preprocessor) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{Preprocessor: p, cfg: p.Config, req: req, res: OutputPaths(req.OutPrefix)}

	if !r.cfg.finalized {
		if err := r.cfg.Finalize(); err != nil {
			return r.res, stageErr(StateCheckCache, err)
		}
	}

	log := p.Log
	if log == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		log = l
	}
	r.log = log.WithFields(logrus.Fields{"run_id": uuid.NewString(), "left": req.LeftInput, "right": req.RightInput})
	defer r.close()

	st := StateCheckCache
	for st != StateDone {
		if err := ctx.Err(); err != nil {
			return r.res, stageErr(st, err)
		}
		slog := r.log.WithField("stage", st.String())
		slog.Debug("entering")

		next, err := r.step(ctx, st, slog)
		if err != nil {
			slog.WithError(err).Error("failed")
			return r.res, stageErr(st, err)
		}
		st = next
	}

	r.log.WithField("stage", StateDone.String()).WithField("cache_hit", r.res.CacheHit).Info("done")
	return r.res, nil
}

func (r *run) step(ctx context.Context, st State, log logrus.FieldLogger) (State, error) {
	switch st {
	case StateCheckCache:
		return r.checkCache(log)
	case StateCrop:
		return r.crop(log)
	case StateEstimateNoData:
		return r.estimateNoData(log)
	case StateMask:
		return r.mask(log)
	case StateAlign:
		return r.align(ctx, log)
	case StateWarp:
		return r.warp(log)
	case StateNormalize:
		return r.normalize(log)
	case StateWrite:
		return r.write(log)
	default:
		return StateDone, fmt.Errorf("no such state %s", st)
	}
}

func (r *run) close() {
	for _, f := range r.opened {
		f.Close()
	}
}

func (r *run) open(filename string) (*raster.File, error) {
	f, err := raster.Open(filename)
	if err != nil {
		return nil, ioErr(err)
	}
	r.opened = append(r.opened, f)
	return f, nil
}

func (r *run) checkCache(log logrus.FieldLogger) (State, error) {
	if !IsCached(r.res.LeftOutput, r.res.RightOutput, r.cfg.CroppingRequested()) {
		log.Debug("no usable outputs, computing")
		return StateCrop, nil
	}

	r.res.CacheHit = true
	r.res.Alignment = r.cachedAlignment()
	log.WithField("output", r.res.LeftOutput).Info("using existing outputs")
	return StateDone, nil
}

// cachedAlignment is the best we can say about how the cached outputs
// were made: whatever the matrix files say, if they are there.
func (r *run) cachedAlignment() Alignment {
	a := Alignment{Left: emath.Identity3(), Right: emath.Identity3()}
	if info, err := raster.ReadInfo(r.res.LeftOutput); err == nil {
		a.Size = info.Bounds().Size()
	}
	if m, err := raster.ReadMatrix(r.res.LeftAlignmentPath); err == nil {
		a.Left = m
	}
	if m, err := raster.ReadMatrix(r.res.RightAlignmentPath); err == nil {
		a.Right = m
	}
	return a
}

// intermediateOptions are the write options for files the pipeline
// reads back itself.
func (r *run) intermediateOptions() raster.WriteOptions {
	return raster.WriteOptions{
		Compression:      r.cfg.Codec,
		CompressionLevel: r.cfg.CompressionLevel,
		Workers:          r.cfg.Workers,
		BlockRows:        r.cfg.BlockRows,
	}
}

func (r *run) crop(log logrus.FieldLogger) (State, error) {
	var err error
	if r.left, err = r.open(r.req.LeftInput); err != nil {
		return StateCrop, err
	}
	if r.right, err = r.open(r.req.RightInput); err != nil {
		return StateCrop, err
	}
	r.leftPath, r.rightPath = r.req.LeftInput, r.req.RightInput

	if !r.cfg.CroppingRequested() {
		return StateEstimateNoData, nil
	}

	r.res.LeftCropped = r.req.OutPrefix + "-L-cropped.tif"
	r.res.RightCropped = r.req.OutPrefix + "-R-cropped.tif"

	if r.left, err = Crop(r.left, r.cfg.LeftCrop, r.res.LeftCropped, r.intermediateOptions()); err != nil {
		return StateCrop, err
	}
	r.opened = append(r.opened, r.left)
	if r.right, err = Crop(r.right, r.cfg.RightCrop, r.res.RightCropped, r.intermediateOptions()); err != nil {
		return StateCrop, err
	}
	r.opened = append(r.opened, r.right)
	r.leftPath, r.rightPath = r.res.LeftCropped, r.res.RightCropped

	log.WithFields(logrus.Fields{"left_size": r.left.Bounds().Size(), "right_size": r.right.Bounds().Size()}).Info("cropped")
	return StateEstimateNoData, nil
}

func (r *run) estimateNoData(log logrus.FieldLogger) (State, error) {
	var err error
	if r.leftNoData, r.rightNoData, err = EstimateNoData(r.leftPath, r.rightPath, r.cfg.NoDataValue); err != nil {
		return StateEstimateNoData, err
	}
	log.WithFields(logrus.Fields{"left_nodata": r.leftNoData, "right_nodata": r.rightNoData}).Debug("no-data values")
	return StateMask, nil
}

// mask puts the no-data predicate over both images, and takes their
// statistics while they are still in their own frames.
func (r *run) mask(log logrus.FieldLogger) (State, error) {
	r.leftView = Mask(r.left, r.leftNoData)
	r.rightView = Mask(r.right, r.rightNoData)

	opts := StatsOptions{
		Workers:     r.cfg.Workers,
		BlockRows:   r.cfg.BlockRows,
		Percentiles: r.cfg.Range == RangePercentile,
	}
	var err error
	if r.res.LeftStats, err = ComputeStatistics(r.leftView, opts); err != nil {
		return StateMask, ioErr(err)
	}
	if r.res.RightStats, err = ComputeStatistics(r.rightView, opts); err != nil {
		return StateMask, ioErr(err)
	}
	log.WithFields(logrus.Fields{"left_stats": r.res.LeftStats.String(), "right_stats": r.res.RightStats.String()}).Info("masked")

	if r.cfg.Alignment == AlignNone {
		r.res.Alignment = IdentityAlignment(r.left.Bounds().Size())
		return StateNormalize, nil
	}
	return StateAlign, nil
}

func (r *run) align(ctx context.Context, log logrus.FieldLogger) (State, error) {
	if err := Supported(r.cfg.Alignment); err != nil {
		return StateAlign, err
	}

	pairs, err := r.interestPoints(ctx, log)
	if err != nil {
		return StateAlign, err
	}

	opts := SolverOptions{
		AdjustLeftImageSize: r.cfg.AdjustLeftImageSize,
		RansacIterations:    r.cfg.RansacIterations,
		InlierThreshold:     r.cfg.RansacInlierThreshold,
	}
	a, err := Solve(r.cfg.Alignment, r.left.Bounds().Size(), r.right.Bounds().Size(), pairs, opts)
	if err != nil {
		return StateAlign, err
	}
	r.res.Alignment = a
	log.WithFields(logrus.Fields{"size": a.Size, "inliers": a.Inliers, "pairs": len(pairs)}).Info("solved")
	if r.cfg.Verbosity > 0 {
		log.Debugf("alignment:\n%s", a)
	}

	if err := r.writeMatrices(log); err != nil {
		return StateAlign, err
	}
	return StateWarp, nil
}

// interestPoints gets the pairs for the images being aligned, either
// from a match file left by an earlier run or from the matcher. Fresh
// pairs are written out before anything tries to use them.
func (r *run) interestPoints(ctx context.Context, log logrus.FieldLogger) ([]InterestPointPair, error) {
	r.res.MatchFile = MatchFilename(r.req.OutPrefix, r.leftPath, r.rightPath)

	if r.cfg.ReuseMatchFile && isFresh(r.res.MatchFile, r.leftPath, r.rightPath) {
		mf, err := ReadMatchFile(r.res.MatchFile)
		if err == nil {
			log.WithField("match_file", r.res.MatchFile).Info("reusing match file")
			return mf.InterestPointPairs(), nil
		}
		log.WithError(err).Warn("can't reuse match file")
	}

	if r.Matcher == nil {
		return nil, fmt.Errorf("%w: alignment-method '%s' needs an interest point matcher", ErrConfiguration, r.cfg.Alignment)
	}

	pairs, err := r.Matcher.Match(ctx, MatchRequest{
		LeftImage:   r.leftPath,
		RightImage:  r.rightPath,
		LeftNoData:  r.leftNoData,
		RightNoData: r.rightNoData,
		LeftCamera:  r.LeftCamera,
		RightCamera: r.RightCamera,
	})
	if err != nil {
		return nil, fmt.Errorf("matcher: %w", err)
	}

	if err := WriteMatchFile(r.res.MatchFile, NewMatchFile(r.leftPath, r.rightPath, pairs)); err != nil {
		return nil, ioErr(err)
	}
	log.WithFields(logrus.Fields{"match_file": r.res.MatchFile, "pairs": len(pairs)}).Info("matched")
	return pairs, nil
}

func (r *run) writeMatrices(log logrus.FieldLogger) error {
	for _, m := range []struct {
		path string
		mat  emath.Mat3
	}{{r.res.LeftAlignmentPath, r.res.Alignment.Left}, {r.res.RightAlignmentPath, r.res.Alignment.Right}} {
		if _, err := raster.WriteMatrix(m.path, m.mat); err != nil {
			return ioErr(err)
		}
		log.WithField("file", m.path).Debug("wrote matrix")
	}
	return nil
}

func (r *run) warp(log logrus.FieldLogger) (State, error) {
	a := r.res.Alignment
	var err error
	if r.leftView, err = Warp(r.leftView, a.Left, a.Size); err != nil {
		return StateWarp, fmt.Errorf("%w: left matrix: %v", ErrInsufficientCorrespondences, err)
	}
	if r.rightView, err = Warp(r.rightView, a.Right, a.Size); err != nil {
		return StateWarp, fmt.Errorf("%w: right matrix: %v", ErrInsufficientCorrespondences, err)
	}
	log.WithField("size", a.Size).Debug("warping")
	return StateNormalize, nil
}

func (r *run) normalize(log logrus.FieldLogger) (State, error) {
	opts := NormalizeOptions{Policy: r.cfg.Normalization, Range: r.cfg.Range}
	l, rt := Normalize(r.leftView, r.rightView, r.res.LeftStats, r.res.RightStats, opts)
	r.leftView, r.rightView = l, rt
	log.WithFields(logrus.Fields{
		"policy":      opts.Policy.String(),
		"range":       opts.Range.String(),
		"left_range":  [2]float64{l.Lo, l.Hi},
		"right_range": [2]float64{rt.Lo, rt.Hi},
	}).Debug("normalizing")
	return StateWrite, nil
}

// outputGeoref is the georeference an output can honestly carry: its
// input's, if the output is in the input's pixel frame.
func outputGeoref(f *raster.File, m emath.Mat3, size image.Point) *raster.GeoReference {
	if !m.IsIdentity() {
		return nil
	}
	return f.Georef.Crop(image.Rectangle{Max: size})
}

func (r *run) write(log logrus.FieldLogger) (State, error) {
	if r.cfg.Alignment == AlignNone {
		if err := r.writeMatrices(log); err != nil {
			return StateWrite, err
		}
	}

	a := r.res.Alignment
	lp, err := raster.WritePending(r.res.LeftOutput, Filled{r.leftView, r.cfg.OutNoData}, r.cfg.outputOptions(outputGeoref(r.left, a.Left, a.Size)))
	if err != nil {
		return StateWrite, ioErr(err)
	}
	rp, err := raster.WritePending(r.res.RightOutput, Filled{r.rightView, r.cfg.OutNoData}, r.cfg.outputOptions(outputGeoref(r.right, a.Right, a.Size)))
	if err != nil {
		lp.Abort()
		return StateWrite, ioErr(err)
	}

	if err := lp.Commit(); err != nil {
		lp.Abort()
		rp.Abort()
		return StateWrite, ioErr(err)
	}
	if err := rp.Commit(); err != nil {
		rp.Abort()
		// Don't leave a left output that looks like a cache hit.
		os.Remove(r.res.LeftOutput)
		return StateWrite, ioErr(err)
	}
	for _, p := range []*raster.Pending{lp, rp} {
		log.WithFields(logrus.Fields{"file": p.Path, "size": humanize.Bytes(uint64(p.Bytes))}).Info("wrote")
	}

	if r.cfg.Verbosity > 0 {
		r.writePreviews(log)
	}
	return StateDone, nil
}
