package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"seolens/internal/config"
	"seolens/pkg/types"
)

// Archiver records analyzed pages for offline inspection.
type Archiver interface {
	SavePage(ctx context.Context, keyword string, doc types.RankedDocument) error
	Close() error
}

// SQLWriter archives ranked pages into a relational database.
type SQLWriter struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLWriter initialises a SQLWriter from configuration.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	writer := &SQLWriter{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := writer.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return writer, nil
}

// SavePage upserts one analyzed page keyed by (keyword, url).
func (s *SQLWriter) SavePage(ctx context.Context, keyword string, doc types.RankedDocument) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.upsertPage(ctx, keyword, doc); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.upsertPage(ctx, keyword, doc); retryErr != nil {
				return fmt.Errorf("insert page: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (s *SQLWriter) upsertPage(ctx context.Context, keyword string, doc types.RankedDocument) error {
	query := `
        INSERT INTO analyzed_pages (keyword, url, title, word_count, internal_links, external_links, relevance_score, retrieved_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (keyword, url) DO UPDATE SET
            title = EXCLUDED.title,
            word_count = EXCLUDED.word_count,
            internal_links = EXCLUDED.internal_links,
            external_links = EXCLUDED.external_links,
            relevance_score = EXCLUDED.relevance_score,
            retrieved_at = EXCLUDED.retrieved_at
    `
	seo := doc.SEO
	if seo == nil {
		seo = types.NewSeoElements(doc.URL)
	}
	if _, err := s.db.ExecContext(ctx, query,
		keyword,
		doc.URL,
		seo.Title,
		seo.WordCount,
		seo.InternalLinks,
		seo.ExternalLinks,
		doc.RelevanceScore,
		time.Now().UTC(),
	); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analyzed_pages (
		    keyword TEXT NOT NULL,
		    url TEXT NOT NULL,
		    title TEXT,
		    word_count INT,
		    internal_links INT,
		    external_links INT,
		    relevance_score DOUBLE PRECISION,
		    retrieved_at TIMESTAMPTZ,
		    PRIMARY KEY (keyword, url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyzed_pages_retrieved_at ON analyzed_pages (retrieved_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
