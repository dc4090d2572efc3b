package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/asaidimu/go-querykit/config"
	"github.com/asaidimu/go-querykit/core/persistence"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/core/schema/schematest"
	"github.com/asaidimu/go-querykit/postgres"
	"github.com/asaidimu/go-querykit/sqlite"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// store is what the demo needs beyond persistence.UnitOfWork.
type store interface {
	persistence.UnitOfWork
	CreateTables(ctx context.Context) error
	Insert(ctx context.Context, entity string, values map[string]any) error
}

type MemberTeam struct {
	Username string
	Age      int
	TeamName string `query:"teamName"`
}

func main() {
	cfg, err := config.Load(os.Getenv("QUERYKIT_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	descriptor := schematest.Descriptor()
	if cfg.Database.Schema != "" {
		if descriptor, err = schema.LoadFile(cfg.Database.Schema); err != nil {
			logger.Fatal("Failed to load descriptor", zap.Error(err))
		}
	}

	ctx := context.Background()
	uow, closeStore, err := openStore(ctx, cfg, descriptor, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	executor, err := persistence.NewExecutor(descriptor, logger, cfg.Query.ExecutorOptions())
	if err != nil {
		logger.Fatal("Failed to create executor", zap.Error(err))
	}
	executor.Subscribe(persistence.MutationUpdateSuccess, func(ctx context.Context, event persistence.MutationEvent) error {
		logger.Info("Bulk update applied",
			zap.String("entity", event.Entity),
			zap.Int64("affected", event.Affected),
			zap.Int("evicted", event.Evicted))
		return nil
	})

	if err := run(ctx, cfg, executor, uow, logger); err != nil {
		logger.Fatal("Demo failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, d *schema.Descriptor, logger *zap.Logger) (store, func(), error) {
	switch cfg.Database.Driver {
	case "sqlite3", "sqlite":
		db, err := sql.Open("sqlite3", cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sqlite.NewContext(db, d, logger, nil), func() { db.Close() }, nil
	case "pgx", "postgres":
		c, err := postgres.Connect(ctx, cfg.Database.DSN, d, logger, nil)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
}

func run(ctx context.Context, cfg *config.Config, e *persistence.Executor, uow store, logger *zap.Logger) error {
	if err := uow.CreateTables(ctx); err != nil {
		return err
	}
	if _, err := e.DeleteAll(ctx, uow, "member"); err != nil {
		return err
	}
	if _, err := e.DeleteAll(ctx, uow, "team"); err != nil {
		return err
	}
	for id, name := range []string{"teamA", "teamB"} {
		if err := uow.Insert(ctx, "team", map[string]any{"id": id + 1, "name": name}); err != nil {
			return err
		}
	}
	for i, age := range []int{10, 20, 30, 40} {
		err := uow.Insert(ctx, "member", map[string]any{
			"id":       i + 1,
			"username": fmt.Sprintf("member%d", i+1),
			"age":      age,
			"teamId":   i/2 + 1,
		})
		if err != nil {
			return err
		}
	}

	builder, err := query.NewPredicateBuilder(e.Descriptor(), "member")
	if err != nil {
		return err
	}
	filter, err := builder.Search(schematest.MemberSearch{
		AgeGoe:   query.IntPtr(35),
		AgeLoe:   query.IntPtr(40),
		TeamName: query.StringPtr("teamB"),
	})
	if err != nil {
		return err
	}

	plan, err := query.Select(query.Fields[MemberTeam](
		query.Col("member.username"),
		query.Col("member.age"),
		query.As(query.Col("team.name"), "teamName"),
	)).From("member").
		LeftJoin("member.team", "team").End().
		Where(filter).
		OrderBy(query.Asc(query.Col("member.id"))).
		Build(e.Descriptor())
	if err != nil {
		return err
	}

	strategy, err := cfg.Query.Strategy()
	if err != nil {
		return err
	}
	page, err := persistence.Paginate[MemberTeam](ctx, e, uow, plan, cfg.Query.Page(), strategy)
	if err != nil {
		return err
	}
	for _, m := range page.Items {
		logger.Info("Member", zap.String("username", m.Username), zap.Int("age", m.Age), zap.String("team", m.TeamName))
	}
	if page.Total != nil {
		logger.Info("Search total", zap.Int64("total", *page.Total))
	}

	if _, err := e.UpdateWhere(ctx, uow, "member", query.Lt("member.age", 28), query.Set("username", "nonMember")); err != nil {
		return err
	}
	return nil
}
