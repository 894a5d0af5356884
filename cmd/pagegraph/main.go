package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-graphviz"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/quillqay/pkg/logging"
	"github.com/astromechza/quillqay/pkg/store"
	"github.com/astromechza/quillqay/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// mainInner prints the page hierarchy as dot, or writes it as svg when -svg is given.
func mainInner() error {
	dbVar := flag.String("db", os.Getenv("DATABASE_URL"), "the database to read, defaults to $DATABASE_URL")
	svgVar := flag.String("svg", "", "write an svg to this path instead of printing dot")
	flag.Parse()
	logging.Setup(slog.LevelInfo)
	if *dbVar == "" {
		return fmt.Errorf("expected -db or DATABASE_URL to be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.Open(ctx, *dbVar, store.Options{MaxConns: 1})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	pages, err := st.GetAllPages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	slog.Info("loaded pages", "count", len(pages))

	if *svgVar != "" {
		if err := viz.RenderPageTreeToSvg(pages, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
		return nil
	}
	return viz.RenderPageTree(pages, graphviz.XDOT, os.Stdout)
}
