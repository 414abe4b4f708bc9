// Package pipeline runs one transcription end to end: normalize, split,
// transcribe chunk by chunk, offset onto the global timeline, overlay
// speakers, render, clean, and optionally post-process. Results stream out
// as they are produced and every temporary artifact is released when the
// stream ends, however it ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/audio-scribe/backend/internal/diarize"
	"github.com/audio-scribe/backend/internal/ffmpeg"
	"github.com/audio-scribe/backend/internal/filler"
	"github.com/audio-scribe/backend/internal/metrics"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/tempfiles"
	"github.com/audio-scribe/backend/internal/transcribe"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/rs/zerolog/log"
)

// ErrNoPostprocessor is returned when a run asks for post-processing but the
// pipeline was built without a post-processing service.
var ErrNoPostprocessor = errors.New("post-processing is not configured")

// Kind distinguishes transcripts from inline failure diagnostics.
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindDiagnostic Kind = "diagnostic"
)

// ChunkResult is one streamed unit of output: a chunk, or one window of a
// chunk for whole-text engines.
type ChunkResult struct {
	// Index is the position of this result in the stream.
	Index  int `json:"index"`
	Chunk  int `json:"chunk"`
	Chunks int `json:"chunks"`
	// Window is the 1-based window number inside the chunk, 0 when the
	// chunk was transcribed in one request.
	Window int `json:"window,omitempty"`

	Kind     Kind                 `json:"kind"`
	Start    float64              `json:"start"`
	End      float64              `json:"end"`
	Text     string               `json:"text"`
	Segments []transcript.Segment `json:"segments,omitempty"`
	Degraded bool                 `json:"degraded,omitempty"`

	PostMode  postprocess.Mode `json:"post_mode,omitempty"`
	PostText  string           `json:"post_text,omitempty"`
	PostError string           `json:"post_error,omitempty"`
}

// Normalizer produces the canonical waveform for an input file.
type Normalizer interface {
	Normalize(ctx context.Context, input string) (string, error)
}

// Splitter cuts the canonical waveform into chunks.
type Splitter interface {
	Split(ctx context.Context, canonical string, chunkSeconds int) (*ffmpeg.Split, error)
}

// DurationProber measures a media file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Stages are the media stages a pipeline drives.
type Stages struct {
	Normalizer Normalizer
	Splitter   Splitter
	Prober     DurationProber
}

// FFmpegStages builds the ffmpeg-backed stages for the detected tools.
func FFmpegStages(tools ffmpeg.Tools, run ffmpeg.Runner) Stages {
	return Stages{
		Normalizer: ffmpeg.NewNormalizer(tools, run),
		Splitter:   ffmpeg.NewSplitter(tools, run),
		Prober:     ffmpeg.NewProber(tools, run),
	}
}

type Pipeline struct {
	stages      Stages
	diarizer    diarize.Provider
	cleaner     *filler.Cleaner
	post        *postprocess.Service
	metrics     *metrics.Metrics
	windowPause time.Duration
	trackerOpts []tempfiles.Option
}

type Option func(*Pipeline)

// WithDiarizer enables speaker labels for runs that ask for them. A nil
// provider leaves diarization disabled.
func WithDiarizer(d diarize.Provider) Option {
	return func(p *Pipeline) { p.diarizer = d }
}

func WithCleaner(c *filler.Cleaner) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.cleaner = c
		}
	}
}

func WithPostprocessor(s *postprocess.Service) Option {
	return func(p *Pipeline) { p.post = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWindowPause sets the delay between window requests of a whole-text
// engine, which keeps long files under provider rate limits.
func WithWindowPause(d time.Duration) Option {
	return func(p *Pipeline) { p.windowPause = d }
}

func WithTrackerOptions(opts ...tempfiles.Option) Option {
	return func(p *Pipeline) { p.trackerOpts = append(p.trackerOpts, opts...) }
}

func New(stages Stages, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:      stages,
		cleaner:     filler.Default(),
		windowPause: 2 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Transcribe validates the run and returns its result stream. Unsupported
// formats, invalid options, unusable engines and missing post-processing
// credentials are reported here, before any file is created or any request
// is made. Everything that fails later is reported inline as a diagnostic
// result and the run moves on to the next chunk.
//
// The stream is single-use. Temporary files are released when iteration
// finishes, including when the consumer stops early.
func (p *Pipeline) Transcribe(ctx context.Context, input string, engine transcribe.Engine, o Options) (iter.Seq[ChunkResult], error) {
	if err := storage.CheckFormat(input); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: no engine", transcribe.ErrUnknownEngine)
	}
	switch engine.(type) {
	case transcribe.SegmentTranscriber, transcribe.TextTranscriber:
	default:
		return nil, fmt.Errorf("%w: %s cannot transcribe", transcribe.ErrUnknownEngine, engine.Name())
	}
	if o.PostMode != "" {
		if p.post == nil {
			return nil, ErrNoPostprocessor
		}
		if o.PostProvider == nil {
			return nil, fmt.Errorf("post_mode %s: %w", o.PostMode, postprocess.ErrMissingCredential)
		}
	}

	return func(yield func(ChunkResult) bool) {
		r := &run{p: p, input: input, engine: engine, opts: o, yield: yield}
		r.execute(ctx)
	}, nil
}

// run is the state of one Transcribe stream.
type run struct {
	p      *Pipeline
	input  string
	engine transcribe.Engine
	opts   Options
	yield  func(ChunkResult) bool

	emitted  int
	stopped  bool
	degraded bool
	timeline *transcript.Timeline
}

func (r *run) execute(ctx context.Context) {
	trackerOpts := r.p.trackerOpts
	if r.p.metrics != nil {
		trackerOpts = append([]tempfiles.Option{tempfiles.WithFailureHook(r.p.metrics.ObserveCleanupFailure)}, trackerOpts...)
	}
	tracker := tempfiles.NewTracker(r.input, trackerOpts...)
	defer tracker.Release()

	r.p.metrics.ObserveRun(r.engine.Name())
	start := time.Now()
	log.Info().Str("input", r.input).Str("engine", r.engine.Name()).
		Int("chunk_seconds", r.opts.ChunkSeconds).Bool("diarize", r.opts.Diarize).Msg("[pipeline] Run started")

	canonical, err := r.p.stages.Normalizer.Normalize(ctx, r.input)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("input", r.input).Msg("[pipeline] Normalization failed, using input as is")
		canonical = r.input
		r.degraded = true
	}
	tracker.SetCanonical(canonical)

	split, err := r.p.stages.Splitter.Split(ctx, canonical, r.opts.ChunkSeconds)
	if err != nil {
		return
	}
	tracker.AddDir(split.Dir)
	tracker.AddChunks(split.Chunks...)
	r.degraded = r.degraded || split.Degraded
	r.timeline = transcript.NewTimeline(float64(r.opts.ChunkSeconds))

	switch e := r.engine.(type) {
	case transcribe.SegmentTranscriber:
		r.segmentLoop(ctx, e, canonical, split.Chunks)
	case transcribe.TextTranscriber:
		r.textLoop(ctx, e, split.Chunks)
	}

	log.Info().Str("input", r.input).Int("results", r.emitted).Int("chunks", len(split.Chunks)).
		Bool("degraded", r.degraded).Dur("elapsed", time.Since(start)).Msg("[pipeline] Run finished")
}

// emit hands one result to the consumer and reports whether to continue.
func (r *run) emit(res ChunkResult) bool {
	if r.stopped {
		return false
	}
	res.Index = r.emitted
	res.Degraded = r.degraded
	r.emitted++
	if !r.yield(res) {
		r.stopped = true
		log.Debug().Str("input", r.input).Int("index", res.Index).Msg("[pipeline] Consumer stopped early")
	}
	return !r.stopped
}

// measure returns the chunk duration or false when no probe can tell.
func (r *run) measure(ctx context.Context, path string) (float64, bool) {
	if r.p.stages.Prober == nil {
		return 0, false
	}
	d, err := r.p.stages.Prober.Duration(ctx, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("[pipeline] Chunk duration unknown, using chunk length")
		return 0, false
	}
	return d, true
}

func (r *run) segmentLoop(ctx context.Context, st transcribe.SegmentTranscriber, canonical string, chunks []string) {
	turns := r.diarize(ctx, canonical)

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return
		}
		measured, ok := r.measure(ctx, chunk)
		start := r.timeline.Offset()
		res := ChunkResult{
			Chunk:  i,
			Chunks: len(chunks),
			Start:  start,
			End:    start + r.timeline.ChunkLength(measured, ok),
		}

		began := time.Now()
		segs, err := st.TranscribeSegments(ctx, transcribe.Request{Path: chunk, Language: r.opts.Language})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.p.metrics.ObserveChunk(st.Name(), metrics.OutcomeError, time.Since(began))
			log.Warn().Err(err).Int("chunk", i).Str("engine", st.Name()).Msg("[pipeline] Chunk transcription failed")
			res.Kind = KindDiagnostic
			res.Text = chunkDiagnostic(i, len(chunks), res.Start, res.End, err)
		} else {
			r.p.metrics.ObserveChunk(st.Name(), metrics.OutcomeOK, time.Since(began))
			segs = r.timeline.Apply(segs)
			if len(turns) > 0 {
				segs = transcript.AssignSpeakers(segs, turns)
			}
			paras := transcript.Paragraphize(segs, r.opts.GapThreshold, r.opts.MaxChars)
			res.Kind = KindTranscript
			res.Text = r.clean(transcript.Render(paras, r.opts.IncludeTimestamps))
			res.Segments = segs
			r.postprocess(ctx, &res)
			if res.Text == "" {
				res.Text = silenceMarker(res)
			}
		}

		r.timeline.Advance(measured, ok)
		if !r.emit(res) {
			return
		}
	}
}

// diarize runs the provider once over the whole canonical file. Failures
// disable speaker labels for the run.
func (r *run) diarize(ctx context.Context, canonical string) []transcript.Turn {
	if !r.opts.Diarize || r.p.diarizer == nil {
		return nil
	}
	began := time.Now()
	turns, err := r.p.diarizer.Diarize(ctx, canonical)
	if err != nil {
		log.Warn().Err(err).Msg("[pipeline] Diarization failed, continuing without speakers")
		return nil
	}
	transcript.SortTurns(turns)
	log.Info().Int("turns", len(turns)).Dur("elapsed", time.Since(began)).Msg("[pipeline] Diarization done")
	return turns
}

func (r *run) textLoop(ctx context.Context, tt transcribe.TextTranscriber, chunks []string) {
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return
		}
		if !r.textChunk(ctx, tt, i, len(chunks), chunk) {
			return
		}
	}
}

// textChunk uploads one chunk and transcribes it in one request, or window
// by window when it is longer than the batch threshold. It returns false
// when the stream must end.
func (r *run) textChunk(ctx context.Context, tt transcribe.TextTranscriber, i, n int, chunk string) bool {
	measured, ok := r.measure(ctx, chunk)
	start := r.timeline.Offset()

	session, err := tt.Open(ctx, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.p.metrics.ObserveChunk(tt.Name(), metrics.OutcomeError, 0)
		log.Warn().Err(err).Int("chunk", i).Str("engine", tt.Name()).Msg("[pipeline] Cannot open chunk")
		end := start + r.timeline.ChunkLength(measured, ok)
		r.timeline.Advance(measured, ok)
		return r.emit(ChunkResult{
			Chunk: i, Chunks: n, Kind: KindDiagnostic, Start: start, End: end,
			Text: chunkDiagnostic(i, n, start, end, err),
		})
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Int("chunk", i).Msg("[pipeline] Failed to release remote file")
		}
	}()

	// Only a single unsplit file can be long enough to need windows without
	// a measurement, so the model estimate is only asked for then.
	if !ok && r.degraded {
		if est, err := session.EstimateDuration(ctx); err == nil && est > 0 {
			log.Info().Float64("seconds", est).Msg("[pipeline] Using model duration estimate")
			measured, ok = est, true
		}
	}
	length := r.timeline.ChunkLength(measured, ok)
	r.timeline.Advance(measured, ok)

	if length <= float64(r.opts.BatchThresholdSec) {
		res := ChunkResult{Chunk: i, Chunks: n, Start: start, End: start + length}
		r.textRequest(ctx, tt.Name(), session, transcribe.TextRequest{
			Language:          r.opts.Language,
			IncludeTimestamps: r.opts.IncludeTimestamps,
			Offset:            start,
		}, &res)
		if ctx.Err() != nil {
			return false
		}
		return r.emit(res)
	}

	size := float64(r.opts.BatchSizeSec)
	log.Info().Int("chunk", i).Float64("seconds", length).Float64("window", size).Msg("[pipeline] Transcribing in windows")
	for w, pos := 1, 0.0; pos < length; w, pos = w+1, pos+size {
		if w > 1 && !r.pause(ctx) {
			return false
		}
		win := &transcribe.Window{Start: pos, End: min(pos+size, length)}
		res := ChunkResult{Chunk: i, Chunks: n, Window: w, Start: start + win.Start, End: start + win.End}
		r.textRequest(ctx, tt.Name(), session, transcribe.TextRequest{
			Language:          r.opts.Language,
			IncludeTimestamps: r.opts.IncludeTimestamps,
			Offset:            start,
			Window:            win,
		}, &res)
		if ctx.Err() != nil {
			return false
		}
		if !r.emit(res) {
			return false
		}
	}
	return true
}

func (r *run) textRequest(ctx context.Context, engine string, s transcribe.TextSession, req transcribe.TextRequest, res *ChunkResult) {
	began := time.Now()
	text, err := s.Transcribe(ctx, req)
	if err != nil {
		r.p.metrics.ObserveChunk(engine, metrics.OutcomeError, time.Since(began))
		log.Warn().Err(err).Int("chunk", res.Chunk).Int("window", res.Window).Msg("[pipeline] Text transcription failed")
		res.Kind = KindDiagnostic
		if res.Window > 0 {
			res.Text = windowDiagnostic(res.Start, res.End, err)
		} else {
			res.Text = chunkDiagnostic(res.Chunk, res.Chunks, res.Start, res.End, err)
		}
		return
	}
	r.p.metrics.ObserveChunk(engine, metrics.OutcomeOK, time.Since(began))
	res.Kind = KindTranscript
	res.Text = r.clean(text)
	r.postprocess(ctx, res)
	if res.Text == "" {
		res.Text = silenceMarker(*res)
	}
}

// pause waits between window requests. It returns false if ctx ends first.
func (r *run) pause(ctx context.Context) bool {
	if r.p.windowPause <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(r.p.windowPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *run) clean(text string) string {
	if !r.opts.RemoveFillers {
		return text
	}
	return r.p.cleaner.Clean(r.opts.Language, text)
}

// postprocess fills PostText, or PostError while keeping Text intact.
func (r *run) postprocess(ctx context.Context, res *ChunkResult) {
	if r.opts.PostMode == "" || r.opts.PostProvider == nil || res.Text == "" {
		return
	}
	provider := r.opts.PostProvider
	out, err := r.p.post.Process(ctx, provider, postprocess.Request{
		Text:              res.Text,
		Mode:              r.opts.PostMode,
		Language:          r.opts.Language,
		IncludeTimestamps: r.opts.IncludeTimestamps,
	})
	r.p.metrics.ObservePostprocess(provider.Name(), string(r.opts.PostMode), err)
	res.PostMode = r.opts.PostMode
	if err != nil {
		res.PostError = err.Error()
		return
	}
	res.PostText = out
}

func chunkDiagnostic(i, n int, start, end float64, err error) string {
	return fmt.Sprintf("[transcription error: chunk %d/%d (%s): %v]", i+1, n, transcript.FormatRange(start, end), err)
}

func windowDiagnostic(start, end float64, err error) string {
	return fmt.Sprintf("[transcription error: window %s: %v]", transcript.FormatRange(start, end), err)
}

// silenceMarker stands in for a transcript that came back empty, so no
// result reaches the caller without text.
func silenceMarker(res ChunkResult) string {
	if res.Window > 0 {
		return fmt.Sprintf("[no speech detected: window %s]", transcript.FormatRange(res.Start, res.End))
	}
	return fmt.Sprintf("[no speech detected: chunk %d/%d (%s)]", res.Chunk+1, res.Chunks, transcript.FormatRange(res.Start, res.End))
}
