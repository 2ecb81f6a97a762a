package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicelearn/internal/app"
	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/library"
	"github.com/MrWong99/voicelearn/internal/screen"
	"github.com/MrWong99/voicelearn/internal/voice"
)

// ── library ───────────────────────────────────────────────────────────────────

func newLibraryCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "library [item-id]",
		Short: "List library items, or print the sentences of one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			catalog, err := library.Load(cfg.Library.File)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return printItem(cmd.OutOrStdout(), catalog, args[0])
			}
			printLibrary(cmd.OutOrStdout(), catalog)
			return nil
		},
	}
}

func printLibrary(w io.Writer, c *library.Catalog) {
	cont := c.Continue()
	fmt.Fprintf(w, "Continue reading: %s (%d%%, %s)\n\n", cont.Title, cont.Progress, cont.LastRead)
	for _, it := range c.Items() {
		fmt.Fprintf(w, "  %-8s %-32s %-20s %3d%%\n", it.ID, it.Title, it.Author, it.Progress)
	}
	if topics := c.TrendingTopics(); len(topics) > 0 {
		fmt.Fprintln(w, "\nTrending:")
		for _, t := range topics {
			fmt.Fprintf(w, "  %s - %s\n", t.Title, t.Subtitle)
		}
	}
	if recent := c.RecentSearches(); len(recent) > 0 {
		fmt.Fprintf(w, "\nRecent searches: %s\n", strings.Join(recent, ", "))
	}
}

func printItem(w io.Writer, c *library.Catalog, id string) error {
	it, err := c.Get(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\nby %s\n\n", it.Title, it.Author)
	for i, s := range it.Content {
		fmt.Fprintf(w, "%3d  %s\n", i+1, s)
	}
	return nil
}

// ── read ──────────────────────────────────────────────────────────────────────

type readFlags struct {
	lang  string
	speed float64
	from  int
	count int
}

func newReadCmd(f *rootFlags) *cobra.Command {
	rf := &readFlags{}
	cmd := &cobra.Command{
		Use:   "read <item-id>",
		Short: "Read an item aloud, translating each sentence into the reading language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rf.speed < screen.MinSpeed || rf.speed > screen.MaxSpeed {
				return fmt.Errorf("--speed %.2f is out of range [%.2f, %.2f]", rf.speed, screen.MinSpeed, screen.MaxSpeed)
			}
			if math.Mod(rf.speed-screen.MinSpeed, screen.SpeedStep) != 0 {
				return fmt.Errorf("--speed %.2f is not a multiple of %.2f", rf.speed, screen.SpeedStep)
			}
			opts, err := languageOption(language.Reader, rf.lang)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := start(ctx, cmd, f, opts...)
			if err != nil {
				return err
			}
			return e.run(ctx, func(ctx context.Context) error {
				return readItem(ctx, e, args[0], rf)
			})
		},
	}
	cmd.Flags().StringVarP(&rf.lang, "lang", "l", "", "reading language (English, Hindi, Tamil); defaults to learner.reader_language")
	cmd.Flags().Float64VarP(&rf.speed, "speed", "s", 1, "playback speed in steps of 0.25")
	cmd.Flags().IntVar(&rf.from, "from", 1, "1-based sentence to start at")
	cmd.Flags().IntVarP(&rf.count, "count", "n", 0, "number of sentences to read; 0 reads to the end")
	return cmd
}

func readItem(ctx context.Context, e *env, id string, rf *readFlags) error {
	item, err := e.app.Catalog().Get(id)
	if err != nil {
		return err
	}
	s, err := e.app.Router().Navigate(app.ViewReader, &item)
	if err != nil {
		return err
	}
	r := s.(*screen.Reader)
	if err := r.Select(rf.from - 1); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	// Speeds form a cycle, so at most one full turn reaches any valid value.
	for range int((screen.MaxSpeed-screen.MinSpeed)/screen.SpeedStep) + 1 {
		if r.Speed() == rf.speed {
			break
		}
		r.CycleSpeed()
	}

	out := e.out
	fmt.Fprintf(out, "%s (%s, %.2fx)\n\n", item.Title, r.Language().Name, r.Speed())
	for n := 1; ; n++ {
		cur, total := r.Progress()
		fmt.Fprintf(out, "[%d/%d] %s\n", cur, total, r.Sentence())
		h, err := r.Play(ctx)
		if err != nil {
			return err
		}
		if t := r.Translation(); t != "" {
			fmt.Fprintf(out, "        %s\n", t)
		}
		if h != nil {
			select {
			case <-h.Done():
			case <-ctx.Done():
				r.Pause()
				return ctx.Err()
			}
		}
		if rf.count > 0 && n >= rf.count || !r.Next() {
			return nil
		}
	}
}

// ── ask ───────────────────────────────────────────────────────────────────────

func newAskCmd(f *rootFlags) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask the tutor a question, or chat interactively when no question is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := languageOption(language.Tutor, lang)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := start(ctx, cmd, f, opts...)
			if err != nil {
				return err
			}
			return e.run(ctx, func(ctx context.Context) error {
				s, err := openSolver(e)
				if err != nil {
					return err
				}
				if len(args) > 0 {
					return ask(ctx, e.out, s, strings.Join(args, " "))
				}
				return chat(ctx, e.out, cmd.InOrStdin(), s)
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "tutor language; defaults to learner.tutor_language")
	return cmd
}

func openSolver(e *env) (*screen.Solver, error) {
	s, err := e.app.Router().Navigate(app.ViewSolver, nil)
	if err != nil {
		return nil, err
	}
	return s.(*screen.Solver), nil
}

func ask(ctx context.Context, w io.Writer, s *screen.Solver, question string) error {
	if err := s.Send(ctx, question); err != nil {
		return err
	}
	msgs := s.Messages()
	fmt.Fprintln(w, msgs[len(msgs)-1].Text)
	return nil
}

// chat runs a line-based conversation until EOF, "/quit" or ctx ends.
func chat(ctx context.Context, w io.Writer, in io.Reader, s *screen.Solver) error {
	fmt.Fprintf(w, "tutor> %s\n", s.Messages()[0].Text)
	if qs := s.SuggestedQuestions(); len(qs) > 0 {
		fmt.Fprintf(w, "       try: %s\n", strings.Join(qs, " | "))
	}
	lines := readLines(ctx, in)
	for {
		fmt.Fprint(w, "you> ")
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := s.Send(ctx, line); err != nil {
			fmt.Fprintf(w, "tutor> (error: %v)\n", err)
			continue
		}
		msgs := s.Messages()
		fmt.Fprintf(w, "tutor> %s\n", msgs[len(msgs)-1].Text)
	}
}

// readLines delivers lines from in until EOF. The reading goroutine may
// outlive ctx while blocked on input; it exits at EOF.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// ── live ──────────────────────────────────────────────────────────────────────

func newLiveCmd(f *rootFlags) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Talk with the tutor in a realtime voice session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := languageOption(language.Tutor, lang)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := start(ctx, cmd, f, opts...)
			if err != nil {
				return err
			}
			return e.run(ctx, func(ctx context.Context) error {
				s, err := openSolver(e)
				if err != nil {
					return err
				}
				return talk(ctx, e, s)
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "tutor language; defaults to learner.tutor_language")
	return cmd
}

// talk runs one live session and prints finished transcript turns until the
// session ends or ctx is cancelled.
func talk(ctx context.Context, e *env, s *screen.Solver) error {
	if err := s.ToggleLive(ctx); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "live tutor (%s), press Ctrl+C to stop\n", s.Language().Name)

	printed := 0
	flush := func(all bool) {
		msgs := s.LiveTranscript()
		done := len(msgs)
		if !all {
			// The newest turn may still grow.
			done--
		}
		for ; printed < done; printed++ {
			fmt.Fprintf(e.out, "%-6s> %s\n", msgs[printed].Role, strings.TrimSpace(msgs[printed].Text))
		}
	}

	last := s.LiveStatus()
	for {
		st := s.LiveStatus()
		if st != last {
			fmt.Fprintf(e.out, "[%s]\n", st)
			last = st
		}
		flush(false)
		if st != voice.StatusConnecting && st != voice.StatusListening {
			flush(true)
			return s.LiveErr()
		}
		if err := e.wait(ctx); err != nil {
			flush(true)
			return err
		}
	}
}

// ── search ────────────────────────────────────────────────────────────────────

func newSearchCmd(f *rootFlags) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search the library; without a query, listen for a spoken one",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := languageOption(language.Search, lang)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := start(ctx, cmd, f, opts...)
			if err != nil {
				return err
			}
			return e.run(ctx, func(ctx context.Context) error {
				sc, err := e.app.Router().Navigate(app.ViewSearch, nil)
				if err != nil {
					return err
				}
				s := sc.(*screen.Search)
				if len(args) > 0 {
					s.SetQuery(strings.Join(args, " "))
				} else if err := listen(ctx, e, s); err != nil {
					return err
				}
				printResults(e.out, s.Query(), s.Search())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "spoken query language; defaults to learner.search_language")
	return cmd
}

// listen runs voice search until the turn completes and the query is set.
func listen(ctx context.Context, e *env, s *screen.Search) error {
	if err := s.ToggleVoiceSearch(ctx); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "listening (%s)...\n", s.Language().Name)
	for s.Listening() {
		if err := e.wait(ctx); err != nil {
			return err
		}
	}
	return s.Err()
}

func printResults(w io.Writer, query string, res []library.Result) {
	fmt.Fprintf(w, "query: %q\n", query)
	if len(res) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for _, r := range res {
		where := string(r.Field)
		if r.Field == library.FieldContent {
			where = fmt.Sprintf("sentence %d", r.Sentence+1)
		}
		id := r.ItemID
		if r.Kind == library.KindTopic {
			id = "topic"
		}
		fmt.Fprintf(w, "  %.2f  %-8s %s (%s)\n", r.Score, id, r.Title, where)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// languageOption resolves a --lang flag against set. An empty name keeps the
// configured learner language.
func languageOption(set language.Set, name string) ([]app.Option, error) {
	if name == "" {
		return nil, nil
	}
	l, err := set.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("--lang: %w; valid values: %v", err, set.Names())
	}
	return []app.Option{app.WithScreenOptions(screen.WithLanguage(l))}, nil
}
