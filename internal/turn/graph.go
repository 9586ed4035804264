package turn

import (
	"context"
	"time"

	"github.com/aleksvoss/murmur/internal/agent"
	"github.com/aleksvoss/murmur/internal/observability"
	"github.com/aleksvoss/murmur/internal/speech"
)

// Stage names used in metrics and progress events.
const (
	StageTranscribe = "transcribe"
	StageAgent      = "agent"
	StageSynthesize = "synthesize"
)

// Status reports how a stage or a whole turn concluded.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusSkipped  Status = "skipped"
)

// Reporter observes one turn's progress. Implementations must not block;
// Run calls them inline between stages.
type Reporter interface {
	TurnStarted()
	StageStarted(stage string)
	StageCompleted(stage string, status Status, d time.Duration)
	TurnCompleted(status Status, d time.Duration)
}

// Fixed messages that absorbed failures turn into. The transcription apology
// is human-authored because it stands in for the transcript; the agent
// apology is ai-authored so the synthesize stage still speaks it.
const (
	transcriptionApology = "Sorry, I couldn't make out any speech in that recording. Could you try again?"
	agentApology         = "I'm sorry, I hit a problem while thinking about that. Please try again in a moment."
)

// minAudioBytes rejects payloads too small to hold any encoded audio.
const minAudioBytes = 100

// Config wires the graph's collaborators. Metrics may be nil.
type Config struct {
	Transcriber speech.Transcriber
	Agent       agent.Adapter
	Synthesizer speech.Synthesizer
	Metrics     *observability.Metrics
	Formats     []string
}

// Graph is the fixed transcribe -> agent -> synthesize pipeline. Run absorbs
// every stage-local failure into the returned State and has no error result;
// turns share nothing beyond explicit State fields, so concurrent runs are
// independent.
type Graph struct {
	transcriber speech.Transcriber
	agent       agent.Adapter
	synthesizer speech.Synthesizer
	metrics     *observability.Metrics
	formats     []string
}

func NewGraph(cfg Config) *Graph {
	g := &Graph{
		transcriber: cfg.Transcriber,
		agent:       cfg.Agent,
		synthesizer: cfg.Synthesizer,
		metrics:     cfg.Metrics,
		formats:     cfg.Formats,
	}
	if len(g.formats) == 0 {
		g.formats = speech.Formats
	}
	return g
}

// Run executes the three stages strictly in order. rep may be nil.
func (g *Graph) Run(ctx context.Context, state State, rep Reporter) State {
	start := time.Now()
	if rep != nil {
		rep.TurnStarted()
	}

	outcome := StatusOK
	var status Status
	state, status = g.runStage(ctx, rep, StageTranscribe, state, g.transcribe)
	if status == StatusDegraded {
		outcome = StatusDegraded
	}
	state, status = g.runStage(ctx, rep, StageAgent, state, g.respond)
	if status == StatusDegraded {
		outcome = StatusDegraded
	}
	state, status = g.runStage(ctx, rep, StageSynthesize, state, g.synthesize)
	if status == StatusDegraded {
		outcome = StatusDegraded
	}

	total := time.Since(start)
	if g.metrics != nil {
		g.metrics.ObserveTurn(string(outcome), total)
	}
	if rep != nil {
		rep.TurnCompleted(outcome, total)
	}
	return state
}

type stageFunc func(ctx context.Context, state State) (State, Status)

func (g *Graph) runStage(ctx context.Context, rep Reporter, name string, state State, fn stageFunc) (State, Status) {
	if rep != nil {
		rep.StageStarted(name)
	}
	start := time.Now()
	next, status := fn(ctx, state)
	d := time.Since(start)
	if g.metrics != nil {
		g.metrics.ObserveStage(name, string(status), d)
	}
	if rep != nil {
		rep.StageCompleted(name, status, d)
	}
	return next, status
}
