package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/interviewer/internal/activity"
	"github.com/zulandar/interviewer/internal/alert"
	"github.com/zulandar/interviewer/internal/connection"
	"github.com/zulandar/interviewer/internal/dashboard"
	"github.com/zulandar/interviewer/internal/interview"
	"github.com/zulandar/interviewer/internal/metrics"
	"github.com/zulandar/interviewer/internal/models"
	"github.com/zulandar/interviewer/internal/queue"
	"github.com/zulandar/interviewer/internal/tabs"
	"github.com/zulandar/interviewer/internal/transport"
	"golang.org/x/term"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		tabID      string
		voice      bool
		hidden     bool
	)

	cmd := &cobra.Command{
		Use:   "run <session-id>",
		Short: "Join and run an interview session",
		Long: `Joins the session, restores any saved draft and connects to the interview
service. Lines typed on stdin build up the answer; commands start with a
slash (type /help for the list).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterview(cmd, configPath, args[0], runFlags{tabID: tabID, voice: voice, hidden: hidden})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&tabID, "tab-id", "", "tab identifier (default random)")
	cmd.Flags().BoolVar(&voice, "voice", false, "start in voice mode")
	cmd.Flags().BoolVar(&hidden, "background", false, "start as a background tab")
	return cmd
}

type runFlags struct {
	tabID  string
	voice  bool
	hidden bool
}

func runInterview(cmd *cobra.Command, configPath, sessionID string, flags runFlags) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	tc, err := transport.New(transport.Options{URL: transport.SessionURL(cfg.Server.WSURL, sessionID)})
	if err != nil {
		return err
	}
	drafts, err := newDraftManager(cfg, gormDB)
	if err != nil {
		return err
	}
	notifier, err := alert.FromConfig(cfg.Alerts)
	if err != nil {
		return err
	}

	bus := newTabBus(cfg, gormDB)
	var lease *tabs.Lease
	if cfg.Tabs.Lease {
		lease = tabs.NewLease(gormDB, cfg.LeaseTimeout())
	}

	mode := models.ModeText
	if flags.voice {
		mode = models.ModeVoice
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	hub := dashboard.NewHub()
	collector := metrics.NewCollector()
	q := queue.New(gormDB)
	finished := make(chan struct{})
	var finishOnce sync.Once

	sess, err := interview.New(interview.Options{
		SessionID: sessionID,
		Service:   client,
		Transport: tc,
		Drafts:    drafts,
		Queue:     q,
		Prober: &connection.HTTPProber{
			URL:     client.HealthURL(),
			Client:  client.HTTPClient(),
			Timeout: cfg.ProbeTimeout(),
		},
		TabBus: bus,
		Lease:  lease,
		TabID:  flags.tabID,
		Hidden: flags.hidden,
		Policy: connection.Policy{
			Base:        cfg.ReconnectBase(),
			Cap:         cfg.ReconnectCap(),
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		ProbeInterval:    cfg.ProbeInterval(),
		DrainInterval:    cfg.DrainInterval(),
		AutosaveInterval: cfg.AutosaveInterval(),
		Debounce:         cfg.DraftDebounce(),
		SubmitAttempts:   cfg.Queue.RetryAttempts,
		SubmitRetryBase:  cfg.RetryBase(),
		Mode:             mode,
		Notifier:         notifier,
		Metrics:          collector,
		OnUpdate: func(u interview.Update) {
			hub.Publish(u)
			printUpdate(out, u)
			if u.Kind == interview.UpdateEvaluation {
				finishOnce.Do(func() { close(finished) })
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		sess.Close(context.Background())
		return err
	}
	defer func() {
		if err := sess.Close(context.Background()); err != nil {
			fmt.Fprintf(out, "Warning: %v\n", err)
		}
	}()

	info := sess.Info()
	fmt.Fprintf(out, "Joined session %s", info.SessionID)
	if info.JobTitle != "" {
		fmt.Fprintf(out, " for %s", info.JobTitle)
	}
	fmt.Fprintln(out)

	if cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				Source:  sess,
				Hub:     hub,
				Queue:   q,
				Metrics: collector,
				Port:    cfg.Dashboard.Port,
				Out:     out,
			}); err != nil {
				fmt.Fprintf(out, "Warning: %v\n", err)
			}
		}()
	}

	p := &prompter{
		sess:        sess,
		out:         out,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	err = p.loop(ctx, cmd.InOrStdin(), finished)
	if ev := sess.Evaluation(); ev != nil {
		printEvaluation(out, ev)
	}
	return err
}

// syncWriter serializes writes from session callbacks and the prompt.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func printUpdate(out io.Writer, u interview.Update) {
	switch u.Kind {
	case interview.UpdateQuestion:
		fmt.Fprintf(out, "\nQ: %s\n", u.Detail)
	case interview.UpdateSubmitted:
		fmt.Fprintf(out, "Answer submitted (%s).\n", u.Detail)
	case interview.UpdateDrained:
		fmt.Fprintf(out, "Queued answers delivered: %s.\n", u.Detail)
	case interview.UpdateTabs:
		if u.Detail == "blocked" {
			fmt.Fprintln(out, "This session is open in another tab; this one is read-only.")
		}
	case interview.UpdateWarning:
		fmt.Fprintf(out, "Warning: %s\n", u.Detail)
	case interview.UpdateRecovered:
		fmt.Fprintf(out, "Restored saved draft (%s).\n", u.Detail)
	case interview.UpdateServer:
		fmt.Fprintf(out, "Server error: %s\n", u.Detail)
	case interview.UpdateConnection:
		switch u.Detail {
		case "offline", "disconnected":
			fmt.Fprintln(out, "Connection lost; answers will be queued until it returns.")
		case "connected":
			fmt.Fprintln(out, "Connected.")
		}
	}
}

func printEvaluation(out io.Writer, ev *transport.Evaluation) {
	fmt.Fprintln(out, "\nInterview complete.")
	if ev.Summary != "" {
		fmt.Fprintf(out, "Summary:        %s\n", ev.Summary)
	}
	if len(ev.Strengths) > 0 {
		fmt.Fprintf(out, "Strengths:      %s\n", ev.Strengths)
	}
	if len(ev.Weaknesses) > 0 {
		fmt.Fprintf(out, "Weaknesses:     %s\n", ev.Weaknesses)
	}
	if ev.Recommendation != "" {
		fmt.Fprintf(out, "Recommendation: %s\n", ev.Recommendation)
	}
}

// session is the part of *interview.Session the prompt drives.
type session interface {
	SetAnswer(text string) error
	Answer() string
	SubmitAnswer(ctx context.Context) (queue.Result, error)
	EndInterview() error
	SetVisible(ctx context.Context, visible bool)
	WindowBlur()
	Paste(length int)
	Shortcut(key string, ctrlOrMeta bool)
	Interrupt() (int, activity.Warning)
	SetMode(m models.Mode)
	SendAudio(chunk []byte) error
	Drain(ctx context.Context) (queue.DrainResult, error)
	Snapshot() interview.Snapshot
	Turns() []models.Turn
}

// prompter reads candidate input line by line. Plain lines extend the
// answer; slash commands act on the session.
type prompter struct {
	sess        session
	out         io.Writer
	interactive bool
}

var errQuit = errors.New("quit")

func (p *prompter) loop(ctx context.Context, in io.Reader, finished <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if p.interactive {
		fmt.Fprintln(p.out, "Type your answer, then /submit. /help lists commands.")
	}
	for {
		p.prompt()
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := p.handle(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(p.out, "Error: %v\n", err)
			}
		}
	}
}

func (p *prompter) prompt() {
	if p.interactive {
		fmt.Fprint(p.out, "> ")
	}
}

func (p *prompter) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return p.appendAnswer(line)
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "submit":
		res, err := p.sess.SubmitAnswer(ctx)
		if err != nil {
			return err
		}
		if res.Queued {
			fmt.Fprintf(p.out, "Offline: answer queued (%s).\n", res.SubmissionID)
		}
	case "end":
		return p.sess.EndInterview()
	case "paste":
		p.sess.Paste(len(arg))
		return p.appendAnswer(arg)
	case "shortcut":
		switch arg {
		case "c", "v":
			p.sess.Shortcut(arg, true)
		default:
			return fmt.Errorf("usage: /shortcut c|v")
		}
	case "clear":
		return p.sess.SetAnswer("")
	case "answer":
		fmt.Fprintln(p.out, p.sess.Answer())
	case "hide":
		p.sess.SetVisible(ctx, false)
	case "show":
		p.sess.SetVisible(ctx, true)
	case "blur":
		p.sess.WindowBlur()
	case "interrupt":
		n, w := p.sess.Interrupt()
		fmt.Fprintf(p.out, "Interruptions: %d (%s)\n", n, w)
	case "mode":
		switch models.Mode(arg) {
		case models.ModeText, models.ModeVoice:
			p.sess.SetMode(models.Mode(arg))
		default:
			return fmt.Errorf("mode must be %s or %s", models.ModeText, models.ModeVoice)
		}
	case "audio":
		return p.sendAudio(arg)
	case "drain":
		res, err := p.sess.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "%d delivered, %d still queued\n", res.Delivered, res.Failed)
	case "questions":
		for _, t := range p.sess.Turns() {
			mark := " "
			if t.Answered() {
				mark = "x"
			}
			fmt.Fprintf(p.out, "[%s] %d. %s\n", mark, t.Number, t.Question)
		}
	case "status":
		p.printStatus()
	case "help":
		p.printHelp()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
	return nil
}

// audioChunk is the size of each binary frame streamed from a file.
const audioChunk = 32 * 1024

func (p *prompter) sendAudio(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /audio <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(audioChunk, len(data))
		if err := p.sess.SendAudio(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (p *prompter) appendAnswer(line string) error {
	cur := p.sess.Answer()
	if cur != "" {
		cur += "\n"
	}
	return p.sess.SetAnswer(cur + line)
}

func (p *prompter) printStatus() {
	s := p.sess.Snapshot()
	fmt.Fprintf(p.out, "Session:    %s (%s)\n", s.Session.SessionID, s.Session.Status)
	fmt.Fprintf(p.out, "Socket:     %s\n", s.Transport)
	fmt.Fprintf(p.out, "Network:    online=%t quality=%s\n", s.Connection.IsOnline, s.Connection.Quality)
	fmt.Fprintf(p.out, "Questions:  %d (%d answered)\n", s.Turns, s.Answered)
	fmt.Fprintf(p.out, "Queued:     %d\n", s.QueueDepth)
	fmt.Fprintf(p.out, "Mode:       %s\n", s.Mode)
	if s.Blocked {
		fmt.Fprintln(p.out, "Blocked:    open in another tab")
	}
	if s.LastWarning != activity.WarningNone.String() {
		fmt.Fprintf(p.out, "Warning:    %s\n", s.LastWarning)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(p.out, "Problem:    %s\n", w)
	}
}

func (p *prompter) printHelp() {
	cmds := []struct{ name, desc string }{
		{"/submit", "submit the current answer"},
		{"/answer", "print the current answer"},
		{"/clear", "discard the current answer"},
		{"/paste <text>", "paste text into the answer"},
		{"/shortcut c|v", "record a copy or paste key combination"},
		{"/questions", "list questions so far"},
		{"/mode text|voice", "switch input mode"},
		{"/hide, /show", "background or foreground this tab"},
		{"/blur", "simulate the window losing focus"},
		{"/interrupt", "record talking over the interviewer"},
		{"/audio <file>", "stream a recorded answer"},
		{"/drain", "replay queued answers now"},
		{"/status", "show session status"},
		{"/end", "finish the interview"},
		{"/quit", "leave; the draft is kept"},
	}
	for _, c := range cmds {
		fmt.Fprintf(p.out, "  %-18s %s\n", c.name, c.desc)
	}
}
