// Command talk is an interactive push-to-talk client for a murmur server.
// Enter starts and stops the microphone, typed lines are submitted as text
// turns, and synthesized replies play through the speakers once playback has
// been unlocked by a first keypress.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aleksvoss/murmur/internal/client"
	"github.com/aleksvoss/murmur/internal/media"
	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/voicesession"
)

type options struct {
	baseURL       string
	say           string
	preview       string
	voices        bool
	stats         bool
	verbose       bool
	submitTimeout time.Duration
	maxPayload    int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "talk: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "talk: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var submitTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "murmur server base URL")
	flag.StringVar(&cfg.say, "say", "", "submit one text turn, play the reply, and exit")
	flag.StringVar(&cfg.preview, "preview", "", "synthesize the given text without a conversation and exit")
	flag.BoolVar(&cfg.voices, "voices", false, "list the server's synthesis voices and exit")
	flag.BoolVar(&cfg.stats, "stats", false, "print the server's stage latency window on exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print per-stage progress from the server event stream")
	flag.IntVar(&submitTimeoutMS, "submit-timeout-ms", 60000, "timeout for one turn submission in milliseconds")
	flag.IntVar(&cfg.maxPayload, "max-payload-bytes", 25<<20, "largest recording the session will submit")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if submitTimeoutMS <= 0 {
		return options{}, fmt.Errorf("submit-timeout-ms must be > 0")
	}
	if cfg.maxPayload <= 0 {
		return options{}, fmt.Errorf("max-payload-bytes must be > 0")
	}
	if cfg.say != "" && cfg.preview != "" {
		return options{}, fmt.Errorf("-say and -preview are mutually exclusive")
	}
	cfg.submitTimeout = time.Duration(submitTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := client.New(cfg.baseURL)
	if err != nil {
		return err
	}

	if cfg.voices {
		return runVoices(ctx, api)
	}
	if cfg.preview != "" {
		return runPreview(ctx, api, cfg.preview)
	}

	conv, err := api.CreateConversation(ctx)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	defer endConversation(api, conv.ConversationID)

	if cfg.say != "" {
		err = runSay(ctx, api, conv.ConversationID, cfg)
	} else {
		err = runInteractive(ctx, api, conv.ConversationID, cfg)
	}
	if err != nil {
		return err
	}
	if cfg.stats {
		return printStats(api)
	}
	return nil
}

func runVoices(ctx context.Context, api *client.Client) error {
	catalog, err := api.Voices(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("provider: %s\n", catalog.Provider)
	for _, v := range catalog.Voices {
		marker := " "
		if v.Voice == catalog.DefaultVoice {
			marker = "*"
		}
		fmt.Printf("%s %-10s %s\n", marker, v.Voice, v.Name)
	}
	return nil
}

// runPreview exercises the one-off synthesis endpoint and plays the result.
func runPreview(ctx context.Context, api *client.Client, text string) error {
	devices, err := media.NewSystemDevices()
	if err != nil {
		return err
	}
	data, mimeType, err := api.SpeechPreview(ctx, text)
	if err != nil {
		return fmt.Errorf("preview synthesis: %w", err)
	}
	fmt.Printf("synthesized %d bytes (%s)\n", len(data), mimeType)

	pb, err := media.NewManager(devices).Play(ctx, data, mimeType)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	select {
	case <-pb.Done():
		return pb.Err()
	case <-ctx.Done():
		pb.Stop()
		return nil
	}
}

// runSay drives a single text turn through the session so the reply follows
// the same playback path as a spoken turn. When the host has no audio stack
// the reply is still printed.
func runSay(ctx context.Context, api *client.Client, conversationID string, cfg options) error {
	devices, devErr := media.NewSystemDevices()
	if devErr != nil {
		fmt.Fprintf(os.Stderr, "talk: playback unavailable: %v\n", devErr)
		resp, err := api.SubmitText(ctx, conversationID, cfg.say)
		if err != nil {
			return fmt.Errorf("submit turn: %w", err)
		}
		printMessages(resp.Messages)
		return nil
	}

	sess := voicesession.New(api, media.NewManager(devices), voicesession.Config{
		ConversationID:  conversationID,
		SubmitTimeout:   cfg.submitTimeout,
		MaxPayloadBytes: cfg.maxPayload,
	})
	defer sess.Close()

	// Invoking -say is itself the user gesture, so the reply may play.
	sess.ArmPlayback()
	sess.SubmitText(cfg.say)

	sawResult := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sess.Events():
			switch ev.Type {
			case voicesession.EventTurnResult:
				printMessages(ev.Messages)
				sawResult = true
			case voicesession.EventFailure:
				return fmt.Errorf("%s: %s", ev.Failure.Kind, ev.Failure.Reason)
			case voicesession.EventState:
				if ev.State == voicesession.StateIdle && sawResult {
					return nil
				}
			}
		}
	}
}

func runInteractive(ctx context.Context, api *client.Client, conversationID string, cfg options) error {
	devices, err := media.NewSystemDevices()
	if err != nil {
		return err
	}
	sess := voicesession.New(api, media.NewManager(devices), voicesession.Config{
		ConversationID:  conversationID,
		SubmitTimeout:   cfg.submitTimeout,
		MaxPayloadBytes: cfg.maxPayload,
	})
	defer sess.Close()

	var streamCh <-chan protocol.TurnEvent
	if cfg.verbose {
		stream, err := api.StreamEvents(ctx, conversationID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "talk: event stream unavailable: %v\n", err)
		} else {
			defer stream.Close()
			streamCh = stream.Events()
		}
	}

	lines := make(chan string)
	go readLines(lines)

	fmt.Printf("conversation %s\n", conversationID)
	fmt.Println("enter starts and stops recording, typed text is sent as a turn, q quits")

	ui := &renderer{}
	armed := false
	for {
		select {
		case <-ctx.Done():
			ui.clearMeter()
			return nil
		case <-sess.Done():
			ui.clearMeter()
			return nil
		case line, ok := <-lines:
			if !ok {
				ui.clearMeter()
				return nil
			}
			if !armed {
				// The first keypress is the gesture that unlocks playback.
				sess.ArmPlayback()
				armed = true
			}
			if sess.State() == voicesession.StateRecording {
				sess.StopTalk()
				continue
			}
			switch line {
			case "q", "quit", "exit":
				ui.clearMeter()
				return nil
			case "":
				sess.PressTalk()
			default:
				sess.SubmitText(line)
			}
		case ev := <-sess.Events():
			ui.session(ev)
		case tev := <-streamCh:
			ui.progress(tev)
		}
	}
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- strings.TrimSpace(sc.Text())
	}
}

func printMessages(messages []protocol.Message) {
	for _, msg := range messages {
		speaker := "you"
		if msg.Role == protocol.RoleAI {
			speaker = "murmur"
		}
		fmt.Printf("%s> %s\n", speaker, msg.Content)
	}
}

func printStats(api *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := api.PerfStages(ctx)
	if err != nil {
		return fmt.Errorf("fetch stage stats: %w", err)
	}
	if len(snap.Stages) == 0 {
		fmt.Println("no stage samples recorded")
		return nil
	}
	fmt.Printf("stage latency over the last %d turns\n", snap.WindowSize)
	fmt.Printf("%-12s %8s %9s %9s %9s %9s\n", "stage", "samples", "avg ms", "p50 ms", "p95 ms", "p99 ms")
	for _, st := range snap.Stages {
		fmt.Printf("%-12s %8d %9.1f %9.1f %9.1f %9.1f\n", st.Stage, st.Samples, st.AvgMS, st.P50MS, st.P95MS, st.P99MS)
	}
	return nil
}

// endConversation runs on a fresh context because the signal context is
// usually already canceled by the time we get here.
func endConversation(api *client.Client, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.EndConversation(ctx, conversationID); err != nil {
		fmt.Fprintf(os.Stderr, "talk: end conversation: %v\n", err)
	}
}

// renderer serializes terminal output. Level meters redraw in place on one
// line; any other event first clears that line.
type renderer struct {
	meterShown bool
}

const meterWidth = 24

func (r *renderer) clearMeter() {
	if !r.meterShown {
		return
	}
	fmt.Print("\r", strings.Repeat(" ", meterWidth+10), "\r")
	r.meterShown = false
}

func (r *renderer) session(ev voicesession.Event) {
	if ev.Type == voicesession.EventLevel {
		r.meter(ev.Source, ev.Level)
		return
	}
	r.clearMeter()
	switch ev.Type {
	case voicesession.EventState:
		switch ev.State {
		case voicesession.StateRecording:
			fmt.Println("listening... press enter to send")
		case voicesession.StateProcessing:
			fmt.Println("thinking...")
		case voicesession.StatePlaying:
			fmt.Println("speaking...")
		}
	case voicesession.EventRecordingDone:
		if ev.NoAudio {
			fmt.Printf("recorded %s (no speech detected, sending anyway)\n", ev.Duration.Round(10*time.Millisecond))
		} else {
			fmt.Printf("recorded %s\n", ev.Duration.Round(10*time.Millisecond))
		}
	case voicesession.EventTurnResult:
		printMessages(ev.Messages)
	case voicesession.EventFailure:
		fmt.Printf("error (%s): %s\n", ev.Failure.Kind, ev.Failure.Reason)
	case voicesession.EventPlaybackPending:
		fmt.Println("reply audio is ready; press enter to unlock playback")
	}
}

func (r *renderer) meter(source string, level float64) {
	filled := int(level * meterWidth)
	if filled < 0 {
		filled = 0
	}
	if filled > meterWidth {
		filled = meterWidth
	}
	label := "mic"
	if source == voicesession.LevelPlayback {
		label = "out"
	}
	fmt.Printf("\r%s [%s%s]", label, strings.Repeat("=", filled), strings.Repeat(" ", meterWidth-filled))
	r.meterShown = true
}

func (r *renderer) progress(tev protocol.TurnEvent) {
	switch tev.Event {
	case protocol.EventStageCompleted:
		r.clearMeter()
		fmt.Printf("  . %s %s (%.0f ms)\n", tev.Stage, tev.Status, tev.DurationMs)
	case protocol.EventTurnCompleted:
		r.clearMeter()
		fmt.Printf("  . turn %s (%.0f ms)\n", tev.Status, tev.DurationMs)
	}
}
