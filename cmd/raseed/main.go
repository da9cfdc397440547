package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/raseedapp/raseed/internal/assistant"
	"github.com/raseedapp/raseed/internal/auth"
	"github.com/raseedapp/raseed/internal/index"
	"github.com/raseedapp/raseed/internal/providers"
	"github.com/raseedapp/raseed/internal/receipt"
	"github.com/raseedapp/raseed/internal/wallet"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("raseed")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbPath           = fs.StringLong("db", "raseed.db", "Document store file path")
		storagePath      = fs.StringLong("storage", "./receipts", "Receipt image storage directory")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set RASEED_GEMINI_KEY)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		geminiEmbedModel = fs.StringLong("gemini-embedding-model", "text-embedding-004", "Google Gemini embedding model name")
		embedderType     = fs.StringLong("embedder", "gemini", "Embedding provider: 'gemini' or 'openai'")
		openaiKey        = fs.StringLong("openai-key", "", "OpenAI-compatible API key (or set RASEED_OPENAI_KEY)")
		openaiBaseURL    = fs.StringLong("openai-base-url", "", "OpenAI-compatible API base URL (empty for api.openai.com)")
		openaiModel      = fs.StringLong("openai-model", "text-embedding-3-small", "OpenAI-compatible embedding model name")
		embedDims        = fs.IntLong("embed-dims", 768, "Embedding vector dimension")
		embedRPS         = fs.IntLong("embed-rps", 5, "Embedding requests per second")
		indexType        = fs.StringLong("index", "memory", "Vector index: 'memory' or 'qdrant'")
		qdrantAddr       = fs.StringLong("qdrant-addr", "localhost:6334", "Qdrant gRPC address")
		qdrantCollection = fs.StringLong("qdrant-collection", "receipts", "Qdrant collection name")
		authSecret       = fs.StringLong("auth-secret", "", "Identity token verification key (empty trusts the bearer token as the owner id)")
		walletIssuer     = fs.StringLong("wallet-issuer", "raseed", "Wallet pass issuer id")
		walletKey        = fs.StringLong("wallet-key", "", "Wallet pass signing key")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RASEED"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Document store
	slog.Info("Initializing document store...")
	store, err := receipt.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize document store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Gemini backs OCR, translation and chat; embedding is switchable
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Gemini API key is required. Set --gemini-key or GEMINI_API_KEY")
		os.Exit(1)
	}
	slog.Info("Initializing Gemini provider...", "model", *geminiModel)
	gemini, err := providers.NewGemini(apiKey, *geminiModel, *geminiEmbedModel)
	if err != nil {
		slog.Error("Failed to initialize Gemini", "error", err)
		os.Exit(1)
	}
	defer gemini.Close()

	var embedder providers.Embedder
	switch *embedderType {
	case "gemini":
		embedder = gemini
	case "openai":
		key := *openaiKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI embedder...", "model", *openaiModel)
		embedder, err = providers.NewOpenAIEmbedder(key, *openaiBaseURL, *openaiModel, *embedDims)
		if err != nil {
			slog.Error("Failed to initialize OpenAI embedder", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid embedder type", "type", *embedderType, "valid", "gemini or openai")
		os.Exit(1)
	}
	embedder = providers.NewRateLimitedEmbedder(embedder, float64(*embedRPS), 1)

	// Vector index
	var idx index.Index
	switch *indexType {
	case "memory":
		idx = index.NewMemory()
	case "qdrant":
		slog.Info("Connecting to Qdrant...", "addr", *qdrantAddr, "collection", *qdrantCollection)
		idx, err = index.NewQdrant(context.Background(), *qdrantAddr, *qdrantCollection, *embedDims)
		if err != nil {
			slog.Error("Failed to connect to Qdrant", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid index type", "type", *indexType, "valid", "memory or qdrant")
		os.Exit(1)
	}
	defer idx.Close()

	// Image storage
	slog.Info("Initializing storage...")
	storage, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Wallet pass issuer
	passKey := *walletKey
	if passKey == "" {
		slog.Error("Wallet signing key is required. Set --wallet-key or RASEED_WALLET_KEY")
		os.Exit(1)
	}
	issuer, err := wallet.NewJWTIssuer(*walletIssuer, []byte(passKey))
	if err != nil {
		slog.Error("Failed to initialize wallet issuer", "error", err)
		os.Exit(1)
	}

	// Identity verification
	var verifier auth.Verifier
	if *authSecret == "" {
		slog.Warn("No auth secret configured; trusting bearer tokens as owner ids")
		verifier = auth.Static{}
	} else {
		verifier, err = auth.NewJWTVerifier([]byte(*authSecret))
		if err != nil {
			slog.Error("Failed to initialize verifier", "error", err)
			os.Exit(1)
		}
	}

	// Core services
	pipeline := receipt.NewPipeline(store, storage, gemini, gemini, embedder, idx, issuer)
	retrieval := receipt.NewRetrieval(embedder, idx, store)
	chatbot := assistant.New(retrieval, gemini)

	server := receipt.NewServer(pipeline, store, storage, chatbot, verifier)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
