package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/tubechat/pkg/chunker"
	cfgPkg "github.com/xhad/tubechat/pkg/config"
	"github.com/xhad/tubechat/pkg/ingest"
	"github.com/xhad/tubechat/pkg/llm"
	"github.com/xhad/tubechat/pkg/retrieve"
	"github.com/xhad/tubechat/pkg/session"
	"github.com/xhad/tubechat/server"
)

func main() {
	cfg, serve := parseFlags()

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	if err := run(cfg, serve); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (*cfgPkg.Config, bool) {
	var configPath string
	var serve bool
	var baseURL, model, provider, port string
	var topK int

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.BoolVar(&serve, "serve", false, "Run the HTTP server instead of the interactive CLI")
	flag.StringVar(&baseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&provider, "provider", "", "LLM provider (ollama or openai)")
	flag.StringVar(&model, "model", "", "LLM model to use")
	flag.StringVar(&port, "port", "", "HTTP server port")
	flag.IntVar(&topK, "top-k", 0, "Number of chunks to retrieve per question")
	flag.Parse()

	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Command line flags win over the config file.
	if baseURL != "" {
		cfg.LLM.BaseURL = baseURL
		cfg.Embedding.BaseURL = baseURL
	}
	if provider != "" {
		cfg.LLM.Provider = provider
		cfg.Embedding.Provider = provider
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if port != "" {
		cfg.Server.Port = port
	}
	if topK != 0 {
		cfg.Retrieval.TopK = topK
	}

	return cfg, serve
}

func buildSession(cfg *cfgPkg.Config) (*session.Session, error) {
	source := ingest.NewSourceWithConfig(ingest.SourceConfig{
		RateLimit: cfg.YouTube.RateLimit,
		Timeout:   time.Duration(cfg.YouTube.TimeoutSec) * time.Second,
		Language:  cfg.YouTube.Language,
	})
	ingestor := ingest.New(source, source)

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %v", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	return session.New(session.Config{
		VectorDim: cfg.Embedding.VectorDim,
		Chunker: chunker.Config{
			ChunkSize:      cfg.Chunker.ChunkSize,
			ChunkOverlap:   cfg.Chunker.ChunkOverlap,
			MaxSpanSeconds: cfg.Chunker.MaxSpanSeconds,
		},
		Retrieval: retrieve.Config{
			TopK:        cfg.Retrieval.TopK,
			FetchK:      cfg.Retrieval.FetchK,
			PerVideoCap: cfg.Retrieval.PerVideoCap,
		},
	}, ingestor, embedder, chatEngine), nil
}

func run(cfg *cfgPkg.Config, serve bool) error {
	sess, err := buildSession(cfg)
	if err != nil {
		return err
	}

	if serve {
		return server.New(server.Config{Port: cfg.Server.Port}, sess).Run()
	}

	return runInteractive(sess)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func runInteractive(sess *session.Session) error {
	reader := bufio.NewReader(os.Stdin)

	color.Cyan("🎥 tubechat")
	fmt.Println("Paste one or more YouTube video/playlist links (comma or space separated).")
	fmt.Println("Then ask questions about them. Commands: /index <urls>, /reset, exit")

	fmt.Print("\nEnter YouTube link(s): ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	if err := indexURLs(sess, line); err != nil {
		color.Red("%v", err)
	}

	for {
		fmt.Print("\nAsk a question (or 'exit'): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		query := strings.TrimSpace(line)

		switch {
		case query == "":
			continue
		case strings.EqualFold(query, "exit"):
			color.Cyan("👋 Goodbye!")
			return nil
		case query == "/reset":
			sess.Reset()
			color.Green("✓ Session reset")
			continue
		case strings.HasPrefix(query, "/index "):
			if err := indexURLs(sess, strings.TrimPrefix(query, "/index ")); err != nil {
				color.Red("%v", err)
			}
			continue
		}

		spinner := getSpinner(" Thinking...")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		answer, err := sess.Ask(ctx, query, "")
		cancel()
		spinner.Finish()
		fmt.Println()

		if err != nil {
			color.Red("Error: %v", err)
			continue
		}

		fmt.Println("\n--- Answer ---")
		fmt.Println(answer.Text)

		if answer.LowEvidence {
			color.Yellow("\n⚠ This answer is weakly grounded in the transcripts.")
		}

		fmt.Println("\n--- Citations ---")
		for _, group := range answer.Grouped {
			color.Blue("%s  %s", group.VideoTag, group.VideoTitle)
			for _, c := range group.Citations {
				marker := " "
				if c.Used {
					marker = "*"
				}
				fmt.Printf("  %s %s [%s] %s\n     %s\n", marker, c.RefID, c.Timestamp, c.URL, c.Snippet)
			}
		}

		fmt.Println("\n--- Timings ---")
		for _, stage := range []string{"retrieval_ms", "llm_response_ms", "citations_ms", "total_ms"} {
			if ms, ok := answer.Timings[stage]; ok {
				fmt.Printf("%s: %dms\n", strings.TrimSuffix(stage, "_ms"), ms)
			}
		}
	}
}

func indexURLs(sess *session.Session, line string) error {
	urls := splitURLs(line)
	if len(urls) == 0 {
		return fmt.Errorf("no URLs entered")
	}

	bar := getSpinner(fmt.Sprintf(" Indexing %d link(s)...", len(urls)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	outcome, err := sess.IndexVideos(ctx, urls)
	cancel()
	bar.Finish()
	fmt.Println()

	if err != nil {
		return err
	}

	color.Green("✓ Indexing completed!")
	fmt.Printf("   Videos indexed: %d\n", outcome.Videos)
	fmt.Printf("   Chunks: %d\n", outcome.Chunks)
	fmt.Printf("   Total time: %dms\n", outcome.Timings["total_ms"])

	if len(outcome.IndexedURLs) == 0 {
		color.Yellow("   All URLs were already indexed.")
	}
	for url, reason := range outcome.Failures {
		color.Yellow("   Skipped %s: %s", url, reason)
	}
	return nil
}

func splitURLs(line string) []string {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	var urls []string
	for _, f := range fields {
		if f != "" {
			urls = append(urls, f)
		}
	}
	return urls
}
