package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"openadmin/internal/api"
	"openadmin/internal/config"
	"openadmin/internal/dsl"
	"openadmin/internal/form"
	"openadmin/internal/i18n"
	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
	"openadmin/internal/security"
	"openadmin/internal/sqlstore"
	"openadmin/internal/view"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	lggr, err := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Log.Level),
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lggr.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lggr); err != nil {
		lggr.Errorw("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lggr logger.Logger) error {
	entities, err := dsl.LoadAllEntities(cfg.DSLDir)
	if err != nil {
		return fmt.Errorf("load dsl: %w", err)
	}
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		return fmt.Errorf("load enums: %w", err)
	}
	registry, err := metadata.NewRegistry(entities, enums)
	if err != nil {
		return fmt.Errorf("build metadata: %w", err)
	}
	lggr.Infow("metadata loaded", "classes", len(registry.ClassNames()), "enums", len(enums))

	sections, err := reference.LoadSections(cfg.SectionsFile)
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}
	for _, issue := range api.Lint(registry, sections.All()) {
		lggr.Warnw("lint", "class", issue.Class, "field", issue.Field, "section", issue.Section, "code", issue.Code, "msg", issue.Message)
	}

	store, closeStore, err := openStore(ctx, cfg, registry, lggr)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := persistence.NewService(registry, store, lggr, persistence.WithPageSize(cfg.Form.CollectionPageSize))

	policy, err := security.LoadPolicy(cfg.SecurityFile)
	if err != nil {
		return fmt.Errorf("load security policy: %w", err)
	}
	users, err := security.NewUserDirectory(policy.Users)
	if err != nil {
		return fmt.Errorf("security users: %w", err)
	}

	bundle, err := i18n.LoadBundle(cfg.MessagesDir, cfg.DefaultLocale)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	html, err := view.NewTemplateRenderer(cfg.TemplatesDir, bundle, lggr)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	ctl, err := api.NewController(api.Deps{
		Service:    svc,
		Security:   security.NewRemoteSecurityService(policy, registry, lggr),
		RowLevel:   security.NewRowLevelSecurityService(policy, registry, lggr),
		Duplicator: persistence.NewDuplicator(svc),
		Sections:   sections,
		Forms:      form.NewService(registry, sections, lggr),
		Validator:  form.NewValidator(),
		Users:      users,
		Messages:   bundle,
		Metadata:   registry,
		HTML:       html,
	}, api.Options{
		ContextPath:         cfg.ContextPath,
		UserHeader:          cfg.Admin.UserHeader,
		DefaultUser:         cfg.Admin.DefaultUser,
		SelectizeMaxResults: cfg.Selectize.MaxResults,
	}, lggr)
	if err != nil {
		return err
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.Run(ctx, ":"+cfg.Port, api.NewRouter(ctl, lggr), lggr)
}

// openStore returns the configured record store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, registry *metadata.Registry, lggr logger.Logger) (persistence.RecordStore, func(), error) {
	if cfg.Store.Driver == "" || cfg.Store.Driver == "memory" {
		lggr.Infow("using in-memory store")
		return persistence.NewMemoryStore(), func() {}, nil
	}
	db, dialect, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, sqlstore.Options{
		ConnectAttempts: cfg.Store.ConnectAttempts,
		ConnectDelay:    cfg.Store.ConnectDelay,
		Logger:          lggr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	store := sqlstore.NewStore(db, dialect, registry, lggr)
	if cfg.Store.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	lggr.Infow("using sql store", "driver", dialect)
	return store, func() { _ = db.Close() }, nil
}
