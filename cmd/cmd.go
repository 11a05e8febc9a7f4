package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	cfgPkg "github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/rag"
)

// App is one local chat session over the shared pipeline.
type App struct {
	config      *cfgPkg.Config
	pipeline    *rag.Pipeline
	loader      *loader.Loader
	session     *rag.Session
	showContext bool
}

// Load reads a local file or URL and indexes it, replacing the current
// document.
func (a *App) Load(ctx context.Context, source string) (string, int, error) {
	return a.load(ctx, source, nil)
}

func (a *App) load(ctx context.Context, source string, progress rag.ProgressFunc) (string, int, error) {
	var (
		doc *models.Document
		err error
	)
	if loader.IsURL(source) {
		doc, err = a.loader.Fetch(ctx, source)
	} else {
		doc, err = a.loader.LoadFile(source)
	}
	if err != nil {
		return "", 0, err
	}

	chunks, err := a.pipeline.Process(ctx, a.session, doc, progress)
	if err != nil {
		return "", 0, err
	}
	return doc.Name, chunks, nil
}

func (a *App) Ask(ctx context.Context, question string) (*models.Answer, error) {
	return a.pipeline.Ask(ctx, a.session, question)
}

func (a *App) Reset() {
	a.session.Reset()
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(color.Output),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(color.Output),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// spin shows a spinner until fn returns.
func spin(description string, fn func()) {
	spinner := getSpinner(description)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				spinner.Add(1)
			}
		}
	}()

	fn()
	close(done)
	wg.Wait()
	spinner.Finish()
	fmt.Fprint(color.Output, "\r")
}

// loadWithProgress loads source, drawing a bar while chunks are embedded.
func (a *App) loadWithProgress(ctx context.Context, source string) error {
	color.Blue("\nProcessing %s\n", source)

	var (
		bar   *progressbar.ProgressBar
		start = time.Now()
	)
	name, chunks, err := a.load(ctx, source, func(done, total int) {
		if bar == nil {
			bar = getProgressBar(total, "🔄 Embedding chunks...")
		}
		bar.Set(done)
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			bar.Describe(color.BlueString("🔄 Embedding chunks... (%.1f chunks/sec)", float64(done)/elapsed))
		}
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", source, err)
	}

	color.Green("\n✓ Indexed %s into %d chunks\n", name, chunks)
	return nil
}

// repl runs the interactive chat loop until exit, EOF or cancellation.
func (a *App) repl(ctx context.Context, in io.Reader) error {
	if doc := a.session.Document(); doc != nil {
		color.Cyan("\nAsk questions about %s (type 'exit' to quit, /help for commands)", doc.Name)
	} else {
		color.Cyan("\nLoad a document with /load <path|url> (type 'exit' to quit, /help for commands)")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for ctx.Err() == nil {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit") || line == "/quit":
			return nil
		case line == "/help":
			printHelp()
		case line == "/reset":
			a.Reset()
			color.Green("✓ Session cleared")
		case line == "/context":
			a.showContext = !a.showContext
			if a.showContext {
				color.Green("✓ Context passages shown")
			} else {
				color.Green("✓ Context passages hidden")
			}
		case line == "/history":
			a.printHistory()
		case strings.HasPrefix(line, "/load"):
			source := strings.TrimSpace(strings.TrimPrefix(line, "/load"))
			if source == "" {
				color.Red("Usage: /load <path|url>")
				continue
			}
			if err := a.loadWithProgress(ctx, source); err != nil {
				color.Red("Error: %v", err)
			}
		case strings.HasPrefix(line, "/"):
			color.Red("Unknown command %s (try /help)", line)
		default:
			a.answer(ctx, line)
		}
	}

	return scanner.Err()
}

func (a *App) answer(ctx context.Context, question string) {
	var (
		answer *models.Answer
		err    error
	)
	spin("🤖 Thinking...", func() {
		answer, err = a.Ask(ctx, question)
	})

	if err != nil {
		color.Red("Error: %v", err)
		if errors.Is(err, types.ErrNoDocument) {
			color.Yellow("Load a document first with /load <path|url>")
		}
		return
	}

	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	if answer.Err != nil {
		assistantPrompt("Assistant: ")
		color.Red("%s", answer.Text)
	} else {
		assistantPrompt("Assistant: %s\n", answer.Text)
	}

	if a.showContext {
		printPassages(answer.Context)
	}
}

func printPassages(passages []models.Passage) {
	faint := color.New(color.Faint).PrintfFunc()
	faint("\nContext (%d passages):\n", len(passages))
	for i, p := range passages {
		faint("  [%d] chunk %d, score %.3f\n", i+1, p.Ordinal, p.Score)
		for _, line := range strings.Split(p.Text, "\n") {
			faint("      %s\n", line)
		}
	}
}

func (a *App) printHistory() {
	history := a.session.History()
	if len(history) == 0 {
		color.Yellow("No questions asked yet")
		return
	}

	user := color.New(color.FgGreen).PrintfFunc()
	assistant := color.New(color.FgCyan).PrintfFunc()
	for _, msg := range history {
		if msg.Role == models.RoleUser {
			user("You: %s\n", msg.Content)
		} else {
			assistant("Assistant: %s\n\n", msg.Content)
		}
	}
}

func printHelp() {
	color.Cyan("Commands:")
	fmt.Fprintln(color.Output, "  /load <path|url>  load a pdf, txt or html document")
	fmt.Fprintln(color.Output, "  /reset            forget the document and history")
	fmt.Fprintln(color.Output, "  /context          toggle showing retrieved passages")
	fmt.Fprintln(color.Output, "  /history          show this session's questions and answers")
	fmt.Fprintln(color.Output, "  exit              quit")
}
