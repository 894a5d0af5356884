// Package store is the durable home of pages and their blocks. It is the only component that reads or writes the
// database; every write of page content is a whole-page replace executed in a single transaction.
//
// Concurrent SavePageContent calls on the same page are not serialized: the last transaction to commit wins and
// the earlier content is silently lost. There is no version token.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/astromechza/quillqay/pkg/model"
)

// Store is the full set of page operations. SQLStore is the only implementation.
type Store interface {
	CreatePage(ctx context.Context, title string) (*model.Page, error)
	CreateChildPage(ctx context.Context, title string, parent uuid.UUID) (*model.Page, error)
	GetPage(ctx context.Context, id uuid.UUID) (*model.Page, error)
	GetBlocksForPage(ctx context.Context, id uuid.UUID) ([]model.Block, error)
	SavePageContent(ctx context.Context, id uuid.UUID, title string, blocks []model.Block) error
	GetAllPages(ctx context.Context) ([]model.Page, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ Store = (*SQLStore)(nil)

// Options tune the connection pool.
type Options struct {
	MaxConns int
}

// SQLStore implements the page and block operations over database/sql. The pool is safe for concurrent use.
type SQLStore struct {
	database *sql.DB
	dialect  dialect
}

// Open connects to the database named by the connection string and verifies connectivity. Postgres urls use the
// pgx driver, sqlite:// and file: urls use sqlite.
func Open(ctx context.Context, conn string, opts Options) (*SQLStore, error) {
	d, dsn, err := parseConnectionString(conn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("ping", err)
	}
	slog.Info("opened database", "dialect", d.name, "max_conns", opts.MaxConns)
	return &SQLStore{database: db, dialect: d}, nil
}

// Dialect returns "postgres" or "sqlite".
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// Migrate creates the tables if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.database.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}
	slog.Info("Ensured tables exist", "dialect", s.dialect.name)
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.database.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.database.Close()
}

// CreatePage persists a new root page with a generated id.
func (s *SQLStore) CreatePage(ctx context.Context, title string) (*model.Page, error) {
	p := model.NewPage(title)
	if err := s.insertPage(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateChildPage persists a new page under parent. The parent must exist; cycles cannot be formed through this
// call but nothing else prevents them.
func (s *SQLStore) CreateChildPage(ctx context.Context, title string, parent uuid.UUID) (*model.Page, error) {
	p := model.NewChildPage(title, parent)
	if err := s.insertPage(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLStore) insertPage(ctx context.Context, p *model.Page) error {
	var parent uuid.NullUUID
	if p.ParentID != nil {
		parent = uuid.NullUUID{UUID: *p.ParentID, Valid: true}
	}
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO pages (id, title, parent_id) VALUES ($1, $2, $3)`,
		p.ID, p.Title, parent,
	); err != nil {
		return storageErr("create page", err)
	}
	return nil
}

// GetPage returns the page metadata without blocks, or ErrNotFound.
func (s *SQLStore) GetPage(ctx context.Context, id uuid.UUID) (*model.Page, error) {
	var p model.Page
	var parent uuid.NullUUID
	if err := s.database.QueryRowContext(
		ctx, `SELECT id, title, parent_id FROM pages WHERE id = $1`, id,
	).Scan(&p.ID, &p.Title, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get page", err)
	}
	if parent.Valid {
		p.ParentID = &parent.UUID
	}
	return &p, nil
}

// GetAllPages lists the metadata of every page ordered by title.
func (s *SQLStore) GetAllPages(ctx context.Context) ([]model.Page, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT id, title, parent_id FROM pages ORDER BY title, id`)
	if err != nil {
		return nil, storageErr("list pages", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)

	pages := make([]model.Page, 0)
	for rows.Next() {
		var p model.Page
		var parent uuid.NullUUID
		if err := rows.Scan(&p.ID, &p.Title, &parent); err != nil {
			return nil, storageErr("scan page", err)
		}
		if parent.Valid {
			p.ParentID = &parent.UUID
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pages", err)
	}
	return pages, nil
}

// GetBlocksForPage returns the blocks of a page in the order they were saved. A block whose stored payload can not
// be parsed is replaced by a fallback text block; the read itself only fails on storage errors.
func (s *SQLStore) GetBlocksForPage(ctx context.Context, pageID uuid.UUID) ([]model.Block, error) {
	rows, err := s.database.QueryContext(
		ctx, `SELECT id, data FROM blocks WHERE page_id = $1 ORDER BY position`, pageID,
	)
	if err != nil {
		return nil, storageErr("get blocks", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)

	blocks := make([]model.Block, 0)
	for rows.Next() {
		var blockID string
		var raw []byte
		if err := rows.Scan(&blockID, &raw); err != nil {
			return nil, storageErr("scan block", err)
		}
		b, err := model.DecodeStoredBlock(blockID, raw)
		if err != nil {
			slog.Warn("replaced unparseable block", "page", pageID, "block", blockID, "err", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get blocks", err)
	}
	return blocks, nil
}

// SavePageContent replaces the title and the entire block set of a page in one transaction: the title is updated,
// every existing block is deleted and the given blocks are inserted in order. On any failure nothing changes.
//
// Blocks with an empty id are assigned a generated one. Saving to a page that does not exist writes nothing and
// returns ErrNotFound.
func (s *SQLStore) SavePageContent(ctx context.Context, pageID uuid.UUID, title string, blocks []model.Block) error {
	payloads := make([][]byte, len(blocks))
	for i, b := range blocks {
		raw, err := model.MarshalStored(b.Data)
		if err != nil {
			return storageErr("encode block", fmt.Errorf("block %d: %w", i, err))
		}
		payloads[i] = raw
	}

	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return storageErr("begin save", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE pages SET title = $1 WHERE id = $2`, title, pageID)
	if err != nil {
		return storageErr("update title", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("update title", err)
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE page_id = $1`, pageID); err != nil {
		return storageErr("delete blocks", err)
	}

	if len(blocks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO blocks (page_id, id, position, data) VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return storageErr("prepare insert", err)
		}
		defer stmt.Close()
		for i, b := range blocks {
			blockID := b.ID
			if blockID == "" {
				blockID = uuid.NewString()
			}
			if _, err := stmt.ExecContext(ctx, pageID, blockID, i, string(payloads[i])); err != nil {
				return storageErr("insert block", fmt.Errorf("block %d (%s): %w", i, blockID, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit save", err)
	}
	slog.Debug("saved page content", "page", pageID, "blocks", len(blocks))
	return nil
}
