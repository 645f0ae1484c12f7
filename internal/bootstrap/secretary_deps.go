package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"secretary_server/adapter/out/graph"
	"secretary_server/adapter/out/messaging"
	"secretary_server/adapter/out/mongodb"
	"secretary_server/adapter/out/ocr"
	"secretary_server/adapter/out/persistence"
	"secretary_server/adapter/out/provider/gmail"
	"secretary_server/adapter/out/realtime"
	"secretary_server/config"
	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/core/service/action"
	"secretary_server/core/service/document"
	"secretary_server/core/service/inbox"
	"secretary_server/core/service/notification"
	"secretary_server/core/service/pipeline"
	"secretary_server/infra/database"
	"secretary_server/pkg/logger"
	"secretary_server/pkg/pathguard"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext // nil when NEO4J_URL is unset

	// Repositories
	Tenants       *persistence.TenantAdapter
	History       *persistence.HistoryAdapter
	Notifications *persistence.NotificationAdapter
	Artifacts     *mongodb.ArtifactAdapter
	Calendar      *mongodb.CalendarAdapter
	CaseGraph     *graph.CaseGraphAdapter // nil without Neo4j

	// Messaging
	Queue     *messaging.RedisProducer
	Lock      *messaging.RedisMailboxLock
	Marker    *messaging.RedisProcessedMarker
	Publisher *realtime.RedisPublisher

	// External
	LLM       out.LLMService
	OCR       *ocr.Adapter
	Paths     *pathguard.Guard // upload and OCR directories
	Mailboxes *gmail.Reader // nil without Gmail credentials
	Profiles  []domain.MailboxProfile

	// Services
	NotificationService *notification.Service
	Orchestrator        *pipeline.Orchestrator
	Triage              *pipeline.Triage
	DocumentService     *document.Service
	InboxService        *inbox.Service // nil without a mailbox reader
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// =========================================================================
	// Storage
	// =========================================================================

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return fail(err)
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	if err := persistence.Migrate(ctx, db); err != nil {
		return fail(err)
	}

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	rdb, err := database.NewRedis(ctx, cfg.RedisURL, nil)
	if err != nil {
		return fail(err)
	}
	deps.Redis = rdb
	cleanups = append(cleanups, func() { rdb.Close() })

	mongoClient, err := mongodb.Connect(ctx, cfg.MongoDBURL)
	if err != nil {
		return fail(err)
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })

	mongoDB := mongoClient.Database(cfg.MongoDBName)
	if err := mongodb.EnsureIndexes(ctx, mongoDB); err != nil {
		return fail(err)
	}
	deps.Artifacts = mongodb.NewArtifactAdapter(mongoDB)
	deps.Calendar = mongodb.NewCalendarAdapter(mongoDB)

	// Neo4j (사건 그래프) is optional
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.Warn("Neo4j connection failed, case graph disabled: %v", err)
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })

			caseGraph := graph.NewCaseGraphAdapter(driver, "neo4j")
			if err := caseGraph.EnsureIndexes(ctx); err != nil {
				logger.Warn("Neo4j index setup failed: %v", err)
			}
			deps.CaseGraph = caseGraph
		}
	}

	deps.Tenants = persistence.NewTenantAdapter(sqlDB)
	deps.History = persistence.NewHistoryAdapter(db)
	deps.Notifications = persistence.NewNotificationAdapter(sqlDB)

	deps.Queue = messaging.NewRedisProducer(rdb)
	deps.Lock = messaging.NewRedisMailboxLock(rdb)
	deps.Marker = messaging.NewRedisProcessedMarker(rdb)
	deps.Publisher = realtime.NewRedisPublisher(rdb)

	// =========================================================================
	// External services
	// =========================================================================

	llmService, err := llm.NewService(ctx, llmConfig(cfg))
	if err != nil {
		return fail(err)
	}
	if cfg.LLMTimeoutSec > 0 {
		llmService = withTimeout(llmService, time.Duration(cfg.LLMTimeoutSec)*time.Second)
	}
	deps.LLM = llmService

	deps.OCR = ocr.NewAdapter(cfg.OCRBinary, cfg.OCRWorkDir, logger.Component("ocr"))
	if deps.Paths, err = fileRoots(cfg); err != nil {
		return fail(err)
	}

	profiles, err := config.LoadMailboxProfiles(cfg.MailboxConfigPath)
	if err != nil {
		return fail(err)
	}
	deps.Profiles = toDomainProfiles(profiles)

	if cfg.GmailRefreshToken != "" {
		reader, err := gmail.NewReader(ctx, gmail.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RefreshToken: cfg.GmailRefreshToken,
		}, logger.Component("gmail"))
		if err != nil {
			return fail(err)
		}
		deps.Mailboxes = reader
	} else if len(deps.Profiles) > 0 {
		logger.Warn("%d mailbox profiles configured but GMAIL_REFRESH_TOKEN is empty; sweeps will be skipped", len(deps.Profiles))
	}

	// =========================================================================
	// Services
	// =========================================================================

	deps.NotificationService = notification.NewService(deps.Notifications, deps.Publisher, logger.Component("notification"))

	extractor := llm.NewExtractor(llmService)
	deps.Orchestrator = pipeline.NewOrchestrator(
		deps.Tenants,
		extractor,
		action.NewResolver(deps.Tenants, logger.Component("action")),
		llm.NewResponder(llmService, cfg.EmailSignature),
		deps.History,
		logger.Component("pipeline"),
	)

	// the caller's user id wins; REVIEW_USER_ID covers worker-side runs
	reviewer := notification.NewReviewer(deps.NotificationService, cfg.ReviewUserID)
	deps.Triage = pipeline.NewTriage(llm.NewTriager(llmService, cfg.EmailSignature), reviewer, logger.Component("triage"))

	var caseGraph out.CaseGraph
	if deps.CaseGraph != nil {
		caseGraph = deps.CaseGraph
	}
	deps.DocumentService = document.NewService(
		llm.NewLegalAnalyst(llmService, cfg.MaxDocumentChars),
		deps.Artifacts,
		deps.Calendar,
		caseGraph,
		deps.NotificationService,
		logger.Component("document"),
	)

	if deps.Mailboxes != nil {
		deps.InboxService = inbox.NewService(inbox.Config{
			Reader:    deps.Mailboxes,
			Lock:      deps.Lock,
			Extractor: extractor,
			Tenants:   deps.Tenants,
			Artifacts: deps.Artifacts,
			Notifier:  deps.NotificationService,
			LockTTL:   cfg.SweepLockTTL,
			Logger:    logger.Component("inbox"),
		})
	}

	logger.Info("Dependencies initialized (llm=%s, neo4j=%t, gmail=%t, mailboxes=%d)",
		cfg.LLMProvider, deps.Neo4j != nil, deps.Mailboxes != nil, len(deps.Profiles))
	return deps, cleanup, nil
}

func llmConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:   cfg.LLMProvider,
		MaxTokens:  cfg.LLMMaxTokens,
		RatePerSec: cfg.LLMRatePerSec,
		Burst:      cfg.LLMBurst,
		Logger:     logger.Component("llm"),
	}
	switch cfg.LLMProvider {
	case llm.ProviderOpenAI:
		pc.APIKey, pc.Model = cfg.OpenAIAPIKey, cfg.OpenAIModel
	default:
		pc.APIKey, pc.Model = cfg.GeminiAPIKey, cfg.GeminiModel
	}
	return pc
}

func toDomainProfiles(in []config.MailboxProfile) []domain.MailboxProfile {
	out := make([]domain.MailboxProfile, len(in))
	for i, p := range in {
		out[i] = domain.MailboxProfile{
			Name:        p.Name,
			UserID:      p.UserID,
			Provider:    p.Provider,
			Query:       p.Query,
			MaxMessages: p.MaxMessages,
		}
	}
	return out
}

// timeoutLLM bounds every completion call.
type timeoutLLM struct {
	next    out.LLMService
	timeout time.Duration
}

func withTimeout(next out.LLMService, timeout time.Duration) out.LLMService {
	return &timeoutLLM{next: next, timeout: timeout}
}

func (t *timeoutLLM) Complete(ctx context.Context, prompt string, temperature float64) (domain.ModelReply, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, prompt, temperature)
}

// fileRoots creates the upload and OCR directories and guards job paths to them.
func fileRoots(cfg *config.Config) (*pathguard.Guard, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.OCRWorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return pathguard.New(cfg.UploadDir, cfg.OCRWorkDir), nil
}
