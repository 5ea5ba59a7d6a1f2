package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/expenso/bill-tracker/internal/bill"
	"github.com/expenso/bill-tracker/internal/extraction"
	"github.com/expenso/bill-tracker/internal/policy"
	"github.com/expenso/bill-tracker/internal/risk"
	"github.com/expenso/bill-tracker/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("bill-tracker")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "bill-tracker.db", "Database file path")
		amountTolerance = fs.Float64Long("amount-tolerance", bill.DefaultAmountTolerance, "Absolute amount tolerance for fuzzy duplicate matching")
		extractorType   = fs.StringLong("extractor", "gemini", "Extractor type: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "qwen2.5vl:3b", "Ollama vision model name")
		policyPDF       = fs.StringLong("policy-pdf", "", "Company policy PDF for compliance checks (optional)")
		policyModel     = fs.StringLong("policy-model", "llama3.1:8b", "Ollama model for policy and risk verdicts")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILL_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...")
	db, err := bill.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var extractor extraction.Extractor
	switch *extractorType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = extraction.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = extraction.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer extractor.Close()

	var checker policy.Checker
	if *policyPDF != "" {
		slog.Info("Loading policy corpus...", "pdf", *policyPDF)
		corpus, err := policy.LoadCorpus(*policyPDF)
		if err != nil {
			slog.Error("Failed to load policy corpus", "error", err)
			os.Exit(1)
		}
		checker, err = policy.NewOllamaChecker(*ollamaURL, *policyModel, corpus)
		if err != nil {
			slog.Error("Failed to initialize policy checker", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("No policy PDF configured; compliance checks disabled")
	}

	scorer, err := risk.NewOllamaScorer(*ollamaURL, *policyModel)
	if err != nil {
		slog.Error("Failed to initialize risk scorer", "error", err)
		os.Exit(1)
	}

	billService := bill.NewServiceWithDetector(db, bill.NewDetector(*amountTolerance))

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.New(billService, extractor, checker, scorer, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
