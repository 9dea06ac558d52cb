package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/adapter/graph"
	"github.com/jun/medidash/internal/adapter/memory"
	"github.com/jun/medidash/internal/apperr"
	"github.com/jun/medidash/internal/auth"
	"github.com/jun/medidash/internal/config"
	"github.com/jun/medidash/internal/crypto"
	"github.com/jun/medidash/internal/dashboard"
	"github.com/jun/medidash/internal/handler"
	"github.com/jun/medidash/internal/ingest"
	"github.com/jun/medidash/internal/lease"
	"github.com/jun/medidash/internal/repository"
	"github.com/jun/medidash/internal/secret"
)

// Deps are the stores and providers the handlers are built on.
type Deps struct {
	Repo   repository.Repository
	Flow   handler.OAuthFlow
	Tokens adapter.TokenProvider
	// DelegatedFiles browses the signed-in account's drive; ServiceFiles the
	// service user's drive with app-only tokens.
	DelegatedFiles adapter.FileBrowser
	ServiceFiles   adapter.FileBrowser
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler       *handler.AuthHandler
	fileHandler       *handler.FileHandler
	folderHandler     *handler.FolderHandler
	syncHandler       *handler.SyncHandler
	tenantHandler     *handler.TenantHandler
	dashboardHandler  *handler.DashboardHandler
	navigationHandler *handler.NavigationHandler

	devMode          bool
	apiGatewaySecret string
	frontendURL      string
	logger           glog.Logger
}

// NewApp initializes the application dependencies from the environment.
func NewApp(ctx context.Context) *App {
	_, logger := glog.Resolve("medidash", nil, nil)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	var resolver secret.Resolver
	if devMode() {
		resolver = secret.NewEnvResolver()
		logger.Info("using env secret resolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewCached(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)))
		logger.Info("using SSM parameter store")
	}

	cfg, err := config.Load(ctx, resolver, logger)
	if err != nil {
		panic(fmt.Sprintf("invalid configuration, %v", err))
	}
	logger.Info("configuration loaded", cfg.Redact()...)

	if cfg.DevMode {
		return New(cfg, devDeps(cfg, awsCfg, logger), logger)
	}
	return New(cfg, awsDeps(cfg, awsCfg, logger), logger)
}

// awsDeps wires DynamoDB, KMS and Microsoft Graph.
func awsDeps(cfg *config.Config, awsCfg aws.Config, logger glog.Logger) Deps {
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	encryptor := crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)

	manager := auth.NewManager(
		managerConfig(cfg),
		auth.NewDynamoTokenStore(dynamoClient, cfg.TokensTable, encryptor),
		auth.WithLocker(lease.NewDynamoLocker(dynamoClient, cfg.LeasesTable)),
		auth.WithLogger(logger),
	)

	opts := []graph.Option{
		graph.WithRateLimiter(graph.NewRateLimiter(graph.DefaultRateLimit)),
		graph.WithLogger(logger),
	}
	if cfg.GraphBaseURL != "" {
		opts = append(opts, graph.WithBaseURL(cfg.GraphBaseURL))
	}
	delegated := graph.NewClient(opts...)

	service := delegated
	if cfg.GraphServiceUser != "" {
		service = delegated.ForUser(cfg.GraphServiceUser)
	} else {
		logger.Warn("GRAPH_SERVICE_USER is not set, folder browsing with app tokens will fail")
	}

	return Deps{
		Repo:           repository.NewDynamo(dynamoClient, cfg.DocumentsTable),
		Flow:           manager,
		Tokens:         manager,
		DelegatedFiles: delegated,
		ServiceFiles:   service,
	}
}

// devDeps keeps everything in process, or in a local DynamoDB when
// DYNAMODB_ENDPOINT is set. The OAuth flow still targets Microsoft so the
// consent screen can be exercised, but file access uses fixed tokens.
func devDeps(cfg *config.Config, awsCfg aws.Config, logger glog.Logger) Deps {
	var (
		repo   repository.Repository = repository.NewMemory()
		store  auth.TokenStore       = auth.NewMemoryTokenStore()
		locker lease.Locker          = lease.NewMemoryLocker()
	)
	if cfg.DynamoEndpoint != "" {
		dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		})
		repo = repository.NewDynamo(dynamoClient, cfg.DocumentsTable)
		store = auth.NewDynamoTokenStore(dynamoClient, cfg.TokensTable, crypto.NewMockEncryptor())
		locker = lease.NewDynamoLocker(dynamoClient, cfg.LeasesTable)
		logger.Info("using local DynamoDB (DEV_MODE=true)", "endpoint", cfg.DynamoEndpoint)
	} else {
		logger.Info("using in-memory storage (DEV_MODE=true)")
	}

	manager := auth.NewManager(
		managerConfig(cfg),
		store,
		auth.WithLocker(locker),
		auth.WithLogger(logger),
	)

	drive := memory.NewBrowser()
	if err := seedDevDrive(drive); err != nil {
		logger.Warn("dev drive seed failed", "error", err)
	}

	return Deps{
		Repo:           repo,
		Flow:           manager,
		Tokens:         auth.StaticTokenProvider{Delegated: "dev-delegated-token", App: "dev-app-token"},
		DelegatedFiles: drive,
		ServiceFiles:   drive,
	}
}

func seedDevDrive(drive *memory.Browser) error {
	clientes, err := drive.AddFolder(adapter.RootFolderID, "Clientes")
	if err != nil {
		return err
	}
	demo, err := drive.AddFolder(clientes, "Demo")
	if err != nil {
		return err
	}
	_, err = drive.AddFile(demo, "informe-mediciones.pdf", 48213, "")
	return err
}

func managerConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		RedirectURL:  cfg.GraphRedirectURL,
		AuthorityURL: cfg.GraphAuthorityURL,
		ExpiryMargin: cfg.TokenExpiryMargin,
	}
}

// New builds the App from resolved configuration and dependencies.
func New(cfg *config.Config, deps Deps, logger glog.Logger) *App {
	if logger == nil {
		logger = glog.Nop()
	}

	aggregator := dashboard.NewAggregator(deps.Repo, deps.DelegatedFiles, deps.Tokens, cfg.StatsConcurrency, logger)

	return &App{
		authHandler: handler.NewAuthHandler(deps.Flow, deps.Tokens, handler.AuthConfig{
			JWTSecret:     cfg.JWTSecret,
			FrontendURL:   cfg.FrontendURL,
			SetupPath:     cfg.SetupPath,
			SecureCookies: !cfg.DevMode,
		}, logger),
		fileHandler:       handler.NewFileHandler(deps.Repo, deps.DelegatedFiles, deps.Tokens, cfg.JWTSecret, logger),
		folderHandler:     handler.NewFolderHandler(deps.ServiceFiles, deps.Tokens, cfg.JWTSecret, logger),
		syncHandler:       handler.NewSyncHandler(ingest.NewService(deps.Repo, logger), cfg.SyncSecret, logger),
		tenantHandler:     handler.NewTenantHandler(deps.Repo, cfg.JWTSecret, logger),
		dashboardHandler:  handler.NewDashboardHandler(aggregator, cfg.JWTSecret, logger),
		navigationHandler: handler.NewNavigationHandler(cfg.JWTSecret, cfg.SetupPath, logger),
		devMode:           cfg.DevMode,
		apiGatewaySecret:  cfg.APIGatewaySecret,
		frontendURL:       cfg.FrontendURL,
		logger:            logger,
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	app.logger.Debug("request", "method", method, "path", path)

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Requests must come through CloudFront, which adds X-Origin-Verify.
	if !app.devMode && !app.originVerified(req) {
		app.logger.Warn("security block: missing or invalid X-Origin-Verify header", "path", path)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")
	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	route := app.route(method, path, &req)
	if route == nil {
		rich := apperr.NotFound(fmt.Sprintf("Not Found: %s %s", method, path))
		return app.corsResponse(jsonError(rich)), nil
	}
	return app.corsResponse(app.must(route(ctx, req))), nil
}

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// route resolves the handler for method and path, filling req.PathParameters.
func (app *App) route(method, path string, req *events.APIGatewayProxyRequest) handlerFunc {
	get := method == http.MethodGet

	switch {
	case path == "/auth/login" && get:
		return app.authHandler.Login
	case path == "/auth/callback" && get:
		return app.authHandler.Callback
	case path == "/auth/token" && get:
		return app.authHandler.Token
	case path == "/auth/logout" && method == http.MethodPost:
		return app.authHandler.Logout
	case path == "/auth/me" && get:
		return app.authHandler.Me
	case path == "/auth/dev-login" && get && app.devMode:
		return app.authHandler.DevLogin
	case path == "/folders" && get:
		return app.folderHandler.Folders
	case path == "/sync" && method == http.MethodPost:
		return app.syncHandler.Sync
	case path == "/dashboard/stats" && get:
		return app.dashboardHandler.Stats
	case path == "/navigation" && get:
		return app.navigationHandler.Navigation
	case path == "/tenants" && get:
		return app.tenantHandler.ListTenants
	}

	rest, ok := strings.CutPrefix(path, "/tenants/")
	if !ok {
		return nil
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	req.PathParameters["tenantId"] = parts[0]

	switch {
	case len(parts) == 1 && get:
		return app.tenantHandler.GetTenant
	case len(parts) == 1 && method == http.MethodPatch:
		return app.tenantHandler.PatchTenant
	case len(parts) == 2 && parts[1] == "files" && get:
		return app.fileHandler.TenantFiles
	case len(parts) == 2 && parts[1] == "branches" && get:
		return app.tenantHandler.ListBranches
	case len(parts) >= 4 && parts[1] == "branches" && parts[3] == "measurements" && get:
		req.PathParameters["branchId"] = parts[2]
		if len(parts) == 4 {
			return app.tenantHandler.ListMeasurements
		}
		// Dates such as 01/01/2025 arrive split across segments.
		req.PathParameters["date"] = strings.Join(parts[4:], "/")
		return app.tenantHandler.GetMeasurement
	}
	return nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PATCH,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization," + handler.SyncSecretHeader
	return resp
}

// must unwraps a handler response, logging the error.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("handler error", "error", err)
		return jsonError(apperr.Translate(err))
	}
	return resp
}

// originVerified reports whether the request carries the API Gateway secret.
// An unset secret verifies nothing.
func (app *App) originVerified(req events.APIGatewayProxyRequest) bool {
	if app.apiGatewaySecret == "" {
		return false
	}
	got := headerValue(req, "X-Origin-Verify")
	return subtle.ConstantTimeCompare([]byte(got), []byte(app.apiGatewaySecret)) == 1
}

func headerValue(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonError(rich *goerrors.Error) events.APIGatewayProxyResponse {
	body, err := json.Marshal(apperr.Envelope(rich, ""))
	if err != nil {
		body = []byte(`{"success":false}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: rich.Code,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func devMode() bool {
	return os.Getenv("DEV_MODE") == "true"
}
