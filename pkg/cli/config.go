package cli

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/adapter"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/repository"
	"github.com/m-mizutani/recollect/pkg/usecase/pipeline"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	memoryNeo4j     = "neo4j"
	memoryFirestore = "firestore"

	generatorDify   = "dify"
	generatorGemini = "gemini"
)

// config holds configuration values
type config struct {
	// Memory store
	memoryBackend     string
	neo4jURI          string
	neo4jUser         string
	neo4jPassword     string
	neo4jDatabase     string
	firestoreProject  string
	firestoreDatabase string

	// Reply generator
	generator      string
	difyURL        string
	difyAPIKey     string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	replyCatalog   string
	contextLimit   int64
	callTimeout    time.Duration

	// Gateway
	evolutionURL      string
	evolutionAPIKey   string
	evolutionInstance string

	// Logging
	logLevel  string
	logFormat string

	httpClient *http.Client
}

// memoryFlags returns flags for the memory store with destination config
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory",
			Usage:       "Memory store backend (neo4j, firestore)",
			Value:       memoryNeo4j,
			Sources:     cli.EnvVars("MEMORY_BACKEND"),
			Destination: &cfg.memoryBackend,
		},
		&cli.StringFlag{
			Name:        "neo4j-uri",
			Usage:       "Neo4j bolt URI",
			Value:       "bolt://neo4j:7687",
			Sources:     cli.EnvVars("NEO4J_URI"),
			Destination: &cfg.neo4jURI,
		},
		&cli.StringFlag{
			Name:        "neo4j-user",
			Usage:       "Neo4j user name",
			Value:       "neo4j",
			Sources:     cli.EnvVars("NEO4J_USER"),
			Destination: &cfg.neo4jUser,
		},
		&cli.StringFlag{
			Name:        "neo4j-password",
			Usage:       "Neo4j password",
			Value:       "password",
			Sources:     cli.EnvVars("NEO4J_PASSWORD"),
			Destination: &cfg.neo4jPassword,
		},
		&cli.StringFlag{
			Name:        "neo4j-database",
			Usage:       "Neo4j database name (empty for the server default)",
			Sources:     cli.EnvVars("NEO4J_DATABASE"),
			Destination: &cfg.neo4jDatabase,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// generatorFlags returns flags for the reply backend with destination config
func generatorFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "generator",
			Usage:       "Reply backend (dify, gemini)",
			Value:       generatorDify,
			Sources:     cli.EnvVars("REPLY_GENERATOR"),
			Destination: &cfg.generator,
		},
		&cli.StringFlag{
			Name:        "dify-url",
			Usage:       "Dify API base URL",
			Value:       "http://dify-api:5001",
			Sources:     cli.EnvVars("DIFY_API_URL"),
			Destination: &cfg.difyURL,
		},
		&cli.StringFlag{
			Name:        "dify-api-key",
			Usage:       "Dify application API key",
			Sources:     cli.EnvVars("DIFY_API_KEY"),
			Destination: &cfg.difyAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "reply-catalog",
			Usage:       "YAML file overriding fallback replies",
			Sources:     cli.EnvVars("REPLY_CATALOG"),
			Destination: &cfg.replyCatalog,
		},
		&cli.IntFlag{
			Name:        "context-limit",
			Usage:       "Number of memory items retrieved per message",
			Value:       model.DefaultContextLimit,
			Sources:     cli.EnvVars("CONTEXT_LIMIT"),
			Destination: &cfg.contextLimit,
		},
		&cli.DurationFlag{
			Name:        "call-timeout",
			Usage:       "Timeout of each external call",
			Value:       adapter.DefaultTimeout,
			Sources:     cli.EnvVars("CALL_TIMEOUT"),
			Destination: &cfg.callTimeout,
		},
	}
}

// gatewayFlags returns flags for the messaging gateway with destination config
func gatewayFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "evolution-url",
			Usage:       "Evolution API base URL",
			Value:       "http://evolution-api:8080",
			Sources:     cli.EnvVars("EVOLUTION_API_URL"),
			Destination: &cfg.evolutionURL,
		},
		&cli.StringFlag{
			Name:        "evolution-api-key",
			Usage:       "Evolution API key",
			Sources:     cli.EnvVars("EVOLUTION_API_KEY"),
			Destination: &cfg.evolutionAPIKey,
		},
		&cli.StringFlag{
			Name:        "evolution-instance",
			Usage:       "Evolution API instance name",
			Value:       "whatsapp-bot",
			Sources:     cli.EnvVars("EVOLUTION_INSTANCE"),
			Destination: &cfg.evolutionInstance,
		},
	}
}

// loggingFlags returns flags for the logger with destination config
func loggingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, logging.ParseFormat(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository connects to the configured memory store
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.memoryBackend {
	case memoryNeo4j:
		if cfg.neo4jURI == "" {
			return nil, goerr.New("neo4j-uri is required")
		}
		if cfg.neo4jUser == "" || cfg.neo4jPassword == "" {
			return nil, goerr.New("neo4j-user and neo4j-password are required")
		}
		var opts []repository.Neo4jOption
		if cfg.neo4jDatabase != "" {
			opts = append(opts, repository.WithDatabase(cfg.neo4jDatabase))
		}
		repo, err := repository.NewNeo4j(ctx, cfg.neo4jURI, cfg.neo4jUser, cfg.neo4jPassword, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create neo4j repository")
		}
		return repo, nil

	case memoryFirestore:
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		if cfg.firestoreDatabase == "" {
			return nil, goerr.New("firestore-database is required")
		}
		repo, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		return repo, nil

	default:
		return nil, goerr.New("unknown memory backend", goerr.V("memory", cfg.memoryBackend))
	}
}

// newGenerator creates the configured reply backend
func (cfg *config) newGenerator(ctx context.Context) (adapter.Generator, error) {
	switch cfg.generator {
	case generatorDify:
		if cfg.difyURL == "" {
			return nil, goerr.New("dify-url is required")
		}
		if cfg.difyAPIKey == "" {
			return nil, goerr.New("dify-api-key is required")
		}
		return adapter.NewDify(cfg.difyURL, cfg.difyAPIKey, adapter.WithDifyHTTPClient(cfg.sharedHTTPClient())), nil

	case generatorGemini:
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, adapter.WithGenerativeModel(cfg.geminiModel))
		if err != nil {
			return nil, err
		}
		return adapter.NewGeminiGenerator(gemini), nil

	default:
		return nil, goerr.New("unknown reply generator", goerr.V("generator", cfg.generator))
	}
}

// newGateway creates the Evolution API client
func (cfg *config) newGateway() (adapter.Gateway, error) {
	if cfg.evolutionURL == "" {
		return nil, goerr.New("evolution-url is required")
	}
	if cfg.evolutionAPIKey == "" {
		return nil, goerr.New("evolution-api-key is required")
	}
	if cfg.evolutionInstance == "" {
		return nil, goerr.New("evolution-instance is required")
	}

	return adapter.NewEvolution(cfg.evolutionURL, cfg.evolutionAPIKey, cfg.evolutionInstance,
		adapter.WithEvolutionHTTPClient(cfg.sharedHTTPClient()),
	), nil
}

// sharedHTTPClient returns the single HTTP client used by all HTTP adapters
func (cfg *config) sharedHTTPClient() *http.Client {
	if cfg.httpClient == nil {
		cfg.httpClient = adapter.NewHTTPClient(cfg.callTimeout)
	}
	return cfg.httpClient
}

// replyCatalog is the YAML document given by --reply-catalog
type replyCatalog struct {
	Fallback model.FallbackReplies `yaml:"fallback"`
}

// loadFallbackReplies reads the reply catalog. Without a catalog the
// built-in replies are used.
func (cfg *config) loadFallbackReplies() (model.FallbackReplies, error) {
	defaults := model.DefaultFallbackReplies()
	if cfg.replyCatalog == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(cfg.replyCatalog)
	if err != nil {
		return defaults, goerr.Wrap(err, "failed to read reply catalog", goerr.V("path", cfg.replyCatalog))
	}

	var catalog replyCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return defaults, goerr.Wrap(err, "failed to parse reply catalog", goerr.V("path", cfg.replyCatalog))
	}

	return catalog.Fallback.Merge(defaults), nil
}

// newPipeline wires the reply pipeline on top of an opened repository
func (cfg *config) newPipeline(ctx context.Context, repo repository.Repository) (*pipeline.UseCase, error) {
	generator, err := cfg.newGenerator(ctx)
	if err != nil {
		return nil, err
	}

	gateway, err := cfg.newGateway()
	if err != nil {
		return nil, err
	}

	fallback, err := cfg.loadFallbackReplies()
	if err != nil {
		return nil, err
	}

	return pipeline.New(repo, generator, gateway,
		pipeline.WithContextLimit(int(cfg.contextLimit)),
		pipeline.WithCallTimeout(cfg.callTimeout),
		pipeline.WithFallbackReplies(fallback),
	), nil
}

// services lists the configured backends for the health endpoint
func (cfg *config) services() map[string]string {
	services := map[string]string{
		"evolution_api": cfg.evolutionURL,
	}

	switch cfg.generator {
	case generatorGemini:
		services["gemini"] = cfg.geminiProject + "/" + cfg.geminiLocation
	default:
		services["dify"] = cfg.difyURL
	}

	switch cfg.memoryBackend {
	case memoryFirestore:
		services["firestore"] = cfg.firestoreProject + "/" + cfg.firestoreDatabase
	default:
		services["neo4j"] = cfg.neo4jURI
	}

	return services
}
