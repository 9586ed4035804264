// Command perfturns replays synthetic turns against a murmur server and
// reports client-observed latency. With -audio it first synthesizes each
// utterance through the preview endpoint and submits the clips as spoken
// turns, so the transcription stage is exercised as well.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aleksvoss/murmur/internal/client"
	"github.com/aleksvoss/murmur/internal/protocol"
)

type options struct {
	baseURL        string
	turns          int
	audio          bool
	verbose        bool
	stats          bool
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
}

type clip struct {
	text     string
	data     []byte
	mimeType string
}

var defaultUtterances = []string{
	"Give me a one sentence status update.",
	"What should I look at next?",
	"Summarize the previous answer in ten words.",
	"Name one open risk right now.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfturns: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfturns: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "murmur server base URL")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.BoolVar(&cfg.audio, "audio", false, "synthesize utterances and submit them as spoken turns")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.BoolVar(&cfg.stats, "stats", false, "print the server stage window after the replay")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	texts, err := parseTexts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func parseTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultUtterances...), nil
	}
	parts := strings.Split(raw, "|")
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if t := strings.TrimSpace(part); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty utterances")
	}
	return texts, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	api, err := client.New(cfg.baseURL)
	if err != nil {
		return err
	}
	conv, err := api.CreateConversation(ctx)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	defer func() {
		endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer endCancel()
		_ = api.EndConversation(endCtx, conv.ConversationID)
	}()

	if cfg.verbose {
		fmt.Printf("perfturns: conversation=%s turns=%d audio=%v\n", conv.ConversationID, cfg.turns, cfg.audio)
	}

	var clips []clip
	if cfg.audio {
		clips, err = prepareClips(ctx, api, cfg.texts)
		if err != nil {
			return fmt.Errorf("prepare utterance audio: %w", err)
		}
	}

	if cfg.verbose {
		stream, err := api.StreamEvents(ctx, conv.ConversationID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "perfturns: event stream unavailable: %v\n", err)
		} else {
			defer stream.Close()
			go printProgress(stream)
		}
	}

	latencies := make([]float64, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		var req protocol.TurnRequest
		var label string
		if cfg.audio {
			cl := clips[i%len(clips)]
			req.AudioInput = &protocol.AudioPayload{AudioData: cl.data, MIMEType: cl.mimeType, Size: len(cl.data)}
			label = cl.text
		} else {
			req.Message = cfg.texts[i%len(cfg.texts)]
			label = req.Message
		}

		turnCtx, turnCancel := context.WithTimeout(ctx, cfg.turnTimeout)
		start := time.Now()
		resp, err := api.SubmitTurn(turnCtx, conv.ConversationID, req)
		turnCancel()
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		latencies = append(latencies, elapsed)

		if cfg.verbose {
			fmt.Printf("perfturns: turn %d/%d %.0fms server=%.0fms speech=%v text=%q\n",
				i+1, cfg.turns, elapsed, resp.DurationMs, resp.TTSOutput != nil, label)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(latencies)
	if cfg.stats {
		return printServerWindow(api)
	}
	return nil
}

// prepareClips synthesizes each distinct utterance once through the preview
// endpoint, so the replay submits realistic provider audio instead of tones
// generated client-side.
func prepareClips(ctx context.Context, api *client.Client, texts []string) ([]clip, error) {
	cache := make(map[string]clip, len(texts))
	out := make([]clip, 0, len(texts))
	for _, text := range texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		data, mimeType, err := api.SpeechPreview(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("synthesize %q: %w", text, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("synthesize %q: empty clip", text)
		}
		c := clip{text: text, data: data, mimeType: mimeType}
		cache[text] = c
		out = append(out, c)
	}
	return out, nil
}

func printProgress(stream *client.EventStream) {
	for ev := range stream.Events() {
		switch ev.Event {
		case protocol.EventStageCompleted:
			fmt.Printf("perfturns:   stage %s %s %.0fms\n", ev.Stage, ev.Status, ev.DurationMs)
		case protocol.EventTurnCompleted:
			fmt.Printf("perfturns:   turn %s %.0fms\n", ev.Status, ev.DurationMs)
		}
	}
}

func printSummary(latencies []float64) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	fmt.Printf("turns=%d min=%.0fms avg=%.0fms p50=%.0fms p95=%.0fms max=%.0fms\n",
		len(sorted), sorted[0], sum/float64(len(sorted)),
		percentile(sorted, 0.50), percentile(sorted, 0.95), sorted[len(sorted)-1])
}

// percentile reads the q-quantile from an ascending slice by nearest rank.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printServerWindow(api *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := api.PerfStages(ctx)
	if err != nil {
		return fmt.Errorf("fetch stage stats: %w", err)
	}
	fmt.Printf("server stage window (last %d turns)\n", snap.WindowSize)
	for _, st := range snap.Stages {
		fmt.Printf("  %-12s samples=%d avg=%.0fms p50=%.0fms p95=%.0fms p99=%.0fms\n",
			st.Stage, st.Samples, st.AvgMS, st.P50MS, st.P95MS, st.P99MS)
	}
	return nil
}
