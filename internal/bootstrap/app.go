package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault/internal/avatars"
	googleauth "filevault/internal/auth"
	"filevault/internal/files"
	"filevault/internal/identity"
	"filevault/internal/queue"
	"filevault/internal/reconcile"
	"filevault/internal/services/health"
	"filevault/internal/shared/auth"
	"filevault/internal/shared/config"
	"filevault/internal/shared/server"
	"filevault/internal/shared/storage/db"
	"filevault/internal/shared/storage/dynamo"
	"filevault/internal/shared/storage/object"
	localstore "filevault/internal/shared/storage/object/local"
	s3store "filevault/internal/shared/storage/object/s3"
)

const devJWTSecret = "dev-only-insecure-secret"

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Blobs           object.BlobStore
	URLs            object.URLIssuer
	BlobHandler     *localstore.Handler
	Queue           queue.Client
	FilesRepo       files.Repo
	IdentityRepo    identity.Repo
	Signer          *auth.Signer
	Resolver        *auth.Resolver
	IdentityService *identity.Service
	FilesService    *files.Service
	AvatarsService  *avatars.Service
	IdentityHandler *identity.Handler
	FilesHandler    *files.Handler
	AvatarsHandler  *avatars.Handler
	GoogleAuth      *googleauth.GoogleService
	Reconciler      *reconcile.Sweeper
	Health          *health.Service
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	return BuildContext(context.Background(), cfg)
}

// BuildContext is Build with a caller-supplied context for client setup.
func BuildContext(ctx context.Context, cfg config.Config) (*App, error) {
	cfg = config.Normalize(cfg)
	app := &App{Config: cfg}

	if err := buildCredentials(app); err != nil {
		return nil, err
	}
	if err := buildMetadata(ctx, app); err != nil {
		return nil, err
	}
	if err := buildBlobs(ctx, app); err != nil {
		return nil, err
	}
	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Queue = queueClient

	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:     app.Config,
		Resolver:   app.Resolver,
		Identity:   app.IdentityHandler,
		Files:      app.FilesHandler,
		Avatars:    app.AvatarsHandler,
		GoogleAuth: app.GoogleAuth,
		Blobs:      app.BlobHandler,
		Health:     app.Health,
	})

	return app, nil
}

func buildCredentials(app *App) error {
	secret := strings.TrimSpace(app.Config.JWTSecret)
	if secret == "" {
		if !app.Config.IsDevLike() {
			return fmt.Errorf("JWT_SECRET is required")
		}
		log.Printf("bootstrap: JWT_SECRET empty; using insecure development secret")
		secret = devJWTSecret
		app.Config.JWTSecret = secret
		if strings.TrimSpace(app.Config.BlobURLSecret) == "" {
			app.Config.BlobURLSecret = secret
		}
	}
	signer, err := auth.NewSigner(secret, app.Config.CredentialTTL)
	if err != nil {
		return err
	}
	resolver, err := auth.NewResolver(secret)
	if err != nil {
		return err
	}
	app.Signer = signer
	app.Resolver = resolver
	return nil
}

func buildMetadata(ctx context.Context, app *App) error {
	cfg := app.Config
	switch cfg.MetadataStore {
	case "postgres":
		sqlDB, err := buildDB(ctx, cfg)
		if err != nil {
			return err
		}
		if sqlDB == nil {
			break
		}
		app.DB = sqlDB
		app.FilesRepo = &files.PGRepo{DB: sqlDB}
		app.IdentityRepo = &identity.PGRepo{DB: sqlDB}
		return nil
	case "dynamodb":
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return err
		}
		app.FilesRepo = files.NewDynamoRepo(client, cfg.DynamoFileTable)
		app.IdentityRepo = identity.NewDynamoRepo(client, cfg.DynamoUserTable)
		return nil
	}

	log.Printf("bootstrap: using in-memory metadata repositories")
	app.FilesRepo = files.NewMemoryRepo()
	app.IdentityRepo = identity.NewMemoryRepo()
	return nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.InLambda() {
		sqlDB, err = db.Shared(ctx, cfg.DatabaseURL, db.PoolFromEnv(db.LambdaPool()))
	} else {
		sqlDB, err = db.Open(ctx, cfg.DatabaseURL, db.PoolFromEnv(db.ServerPool()))
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if cfg.IsDevLike() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildBlobs(ctx context.Context, app *App) error {
	cfg := app.Config
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return fmt.Errorf("OBJECT_STORE=s3 requires AWS_BUCKET_NAME")
		}
		opts := s3store.Options{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			KMSKeyID:        cfg.SSEKMSKeyID,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			DisableSSE:      cfg.S3DisableSSE,
		}
		client, err := s3store.NewClient(ctx, opts)
		if err != nil {
			return err
		}
		store, err := s3store.NewFromClient(client, opts)
		if err != nil {
			return err
		}
		app.Blobs = store
		app.URLs = s3store.NewIssuer(client, opts)
		return nil
	default:
		secret := strings.TrimSpace(cfg.BlobURLSecret)
		if secret == "" {
			secret = randomSecret()
			log.Printf("bootstrap: BLOB_URL_SECRET empty; using an ephemeral secret")
		}
		store := localstore.New(cfg.LocalStoreDir)
		signer, err := localstore.NewSigner(cfg.PublicBaseURL, secret)
		if err != nil {
			return err
		}
		app.Blobs = store
		app.URLs = signer
		app.BlobHandler = localstore.NewHandler(store, signer)
		return nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.CleanupQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.CleanupQueueURL)
}

func buildServices(app *App) {
	cfg := app.Config

	app.IdentityService = identity.NewService(app.IdentityRepo, app.Signer)
	app.FilesService = files.NewService(app.FilesRepo, app.Blobs, app.URLs)
	app.AvatarsService = avatars.NewService(app.IdentityRepo, app.Blobs, app.URLs, app.Queue)

	app.IdentityHandler = identity.NewHandler(app.IdentityService, app.AvatarsService)
	app.FilesHandler = files.NewHandler(app.FilesService)
	app.AvatarsHandler = avatars.NewHandler(app.AvatarsService, app.IdentityHandler)
	app.GoogleAuth = googleauth.NewGoogleService(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
		cfg.UIRedirectURL,
		app.IdentityService,
	)
	app.Reconciler = reconcile.NewSweeper(app.Blobs, app.FilesRepo, app.IdentityRepo)

	labels := map[string]string{
		"metadata": cfg.MetadataStore,
		"objects":  cfg.ObjectStoreType,
	}
	if app.DB == nil && cfg.MetadataStore == "postgres" {
		labels["metadata"] = "memory"
	}
	var checks []health.Check
	if app.DB != nil {
		checks = append(checks, health.Check{Name: "postgres", Func: app.DB.PingContext})
	}
	app.Health = health.NewService(labels, checks...)
}

func randomSecret() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	return hex.EncodeToString(b[:])
}
