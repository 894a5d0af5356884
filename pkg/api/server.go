// Package api serves pages over http and upgrades /ws connections into realtime sessions.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/quillqay/pkg/model"
	"github.com/astromechza/quillqay/pkg/realtime"
)

// PageStore is the persistence the handlers need. *store.SQLStore implements it.
type PageStore interface {
	CreatePage(ctx context.Context, title string) (*model.Page, error)
	CreateChildPage(ctx context.Context, title string, parent uuid.UUID) (*model.Page, error)
	GetPage(ctx context.Context, id uuid.UUID) (*model.Page, error)
	GetBlocksForPage(ctx context.Context, id uuid.UUID) ([]model.Block, error)
	SavePageContent(ctx context.Context, id uuid.UUID, title string, blocks []model.Block) error
	GetAllPages(ctx context.Context) ([]model.Page, error)
	Ping(ctx context.Context) error
}

type Options struct {
	// NotifyOnSave publishes a model.ChangeNotification on the hub after every successful page write.
	NotifyOnSave bool
	Session      realtime.SessionOptions
	// MaxBodyBytes caps request bodies, zero means 4MiB.
	MaxBodyBytes int64
}

type Server struct {
	store    PageStore
	hub      *realtime.Hub
	opts     Options
	upgrader websocket.Upgrader

	sessions  sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(store PageStore, hub *realtime.Hub, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	return &Server{
		store: store,
		hub:   hub,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// any origin may connect, matching the permissive cors policy of the http routes
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

// Close ends every running realtime session and waits for them to finish. http.Server.Shutdown does not track
// hijacked connections, so call this after it.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.sessions.Wait()
}

func (s *Server) notify(kind string, p *model.Page) {
	if !s.opts.NotifyOnSave {
		return
	}
	s.hub.Publish(model.ChangeNotification{Type: kind, PageID: p.ID, Title: p.Title}.String())
}
