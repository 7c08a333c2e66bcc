package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"dialog-rag/internal/config"
)

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the configured postgres driver: "pg" for bun's pgdriver,
// "postgres" for lib/pq.
func ConnectDB(dbConfig *config.DatabaseConfig) (*sql.DB, error) {
	switch dbConfig.Driver {
	case "pg":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dbConfig.DSN))), nil
	case "postgres":
		sqldb, err := sql.Open("postgres", dbConfig.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sqldb, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbConfig.Driver)
	}
}

// InitDB creates the users, dialog_history and dialog_mode tables.
func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*userRow)(nil), (*dialogMessage)(nil), (*dialogMode)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*dialogMessage)(nil)).
		Index("dialog_history_user_id_idx").
		Column("user_id", "id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	_, err = db.NewCreateIndex().
		Model((*dialogMode)(nil)).
		Index("dialog_mode_user_id_idx").
		Column("user_id", "id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// DropTables removes every table InitDB creates.
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*dialogMode)(nil), (*dialogMessage)(nil), (*userRow)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}

// NewStore opens the history store selected by dbConfig.Driver.
func NewStore(ctx context.Context, dbConfig *config.DatabaseConfig) (Store, error) {
	if dbConfig.Driver == "memory" {
		return NewMemoryStore(), nil
	}
	sqldb, err := ConnectDB(dbConfig)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, dbConfig.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}
