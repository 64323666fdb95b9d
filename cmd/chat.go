package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/correlate"
	"github.com/openshift/sippy-chat/internal/ui"
)

var (
	chatPersona       string
	chatNoThinking    bool
	chatMaxIterations int
)

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask a question, or start an interactive session",
	Long: `Ask the assistant about CI failures.

With a question argument the answer is printed and the command exits.
Without one, questions are read from stdin until EOF or /quit; earlier
questions and answers are kept as conversation history.

Examples:
  sippy-chat chat "what are the known incidents right now?"
  sippy-chat chat --persona bamboo_sage
  sippy-chat chat --no-thinking < questions.txt

Ctrl+C cancels the current turn. Press it again at the prompt to exit.`,
	Args: cobra.ArbitraryArgs,
	RunE: runChat,
}

func init() {
	AddPersonaFlag(chatCmd, &chatPersona)
	AddMaxIterationsFlag(chatCmd, &chatMaxIterations)
	chatCmd.Flags().BoolVar(&chatNoThinking, "no-thinking", false, "Hide model reasoning steps")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatMaxIterations > 0 {
		cfg.MaxIterations = chatMaxIterations
	}
	if chatNoThinking {
		cfg.ShowThinking = false
	}

	rt, err := newRuntime(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	session := &chatSession{
		rt:      rt,
		persona: chatPersona,
		out:     cmd.OutOrStdout(),
		styles:  ui.NewStyles(cmd.OutOrStdout(), nil),
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok && ui.IsTerminal(f) {
		session.markdownWidth = ui.TerminalWidth(f)
	}

	if len(args) > 0 {
		return session.ask(cmd.Context(), strings.Join(args, " "))
	}
	return session.loop(cmd.Context(), cmd.InOrStdin())
}

// chatSession is one CLI conversation.
type chatSession struct {
	rt      *chatRuntime
	persona string
	history []agent.ChatMessage
	out     io.Writer
	styles  *ui.Styles
	// markdownWidth enables glamour rendering when positive.
	markdownWidth int
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(s.out, s.styles.Highlight.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			s.history = nil
			fmt.Fprintln(s.out, s.styles.Muted.Render("history cleared"))
			continue
		}
		if err := s.ask(ctx, question); err != nil && !errors.Is(err, agent.ErrCancelled) {
			fmt.Fprintln(s.out, s.styles.Error.Render("error: "+err.Error()))
		}
	}
}

// ask runs one turn. Ctrl+C while it runs cancels the turn only.
func (s *chatSession) ask(ctx context.Context, question string) error {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-turnCtx.Done():
		}
	}()

	in, err := s.rt.turnInput(question, s.history, nil, s.persona, nil)
	if err != nil {
		return err
	}
	res, err := s.rt.driver.Handle(turnCtx, in, s.printStep)
	if errors.Is(err, agent.ErrCancelled) {
		fmt.Fprintln(s.out, s.styles.Warning.Render("cancelled"))
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, s.render(res.FinalText))
	if len(res.Visualizations) > 0 {
		fmt.Fprintln(s.out, s.styles.Muted.Render(fmt.Sprintf("(%d visualization(s) available in the web UI)", len(res.Visualizations))))
	}
	if res.Status == agent.StatusTruncated {
		fmt.Fprintln(s.out, s.styles.Warning.Render("note: the iteration limit was reached; the answer may be incomplete"))
	}
	s.history = append(s.history,
		agent.ChatMessage{Role: "user", Content: question},
		agent.ChatMessage{Role: "assistant", Content: res.FinalText},
	)
	return nil
}

func (s *chatSession) printStep(step correlate.Step) {
	fmt.Fprintln(s.out, s.styles.FormatStep(step))
}

func (s *chatSession) render(text string) string {
	if s.markdownWidth > 0 {
		return ui.RenderMarkdown(text, s.markdownWidth)
	}
	return text
}
