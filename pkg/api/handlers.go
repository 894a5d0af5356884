package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/astromechza/quillqay/pkg/model"
	"github.com/astromechza/quillqay/pkg/realtime"
	"github.com/astromechza/quillqay/pkg/store"
	"github.com/astromechza/quillqay/pkg/viz"
)

type createPageRequest struct {
	Title *string `json:"title"`
}

type updatePageRequest struct {
	Title  *string       `json:"title"`
	Blocks *[]model.Block `json:"blocks"`
}

func (s *Server) health(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = writer.Write([]byte("OK"))
}

func (s *Server) ready(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), 2*time.Second)
	defer cancel()
	status, database := http.StatusOK, "ok"
	if err := s.store.Ping(ctx); err != nil {
		slog.Error("readiness check failed", "err", err)
		status, database = http.StatusServiceUnavailable, "unavailable"
	}
	writeJSON(writer, status, map[string]any{"database": database, "subscribers": s.hub.Len()})
}

func (s *Server) listPages(writer http.ResponseWriter, request *http.Request) {
	pages, err := s.store.GetAllPages(request.Context())
	if err != nil {
		slog.Error("failed to fetch pages", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(writer, http.StatusOK, pages)
}

func (s *Server) createPage(writer http.ResponseWriter, request *http.Request) {
	var inputs createPageRequest
	if err := s.decodeBody(writer, request, &inputs); err != nil {
		slog.Warn("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if inputs.Title == nil {
		slog.Warn("rejecting page without title")
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	page, err := s.store.CreatePage(request.Context(), *inputs.Title)
	if err != nil {
		slog.Error("failed to create page", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.notify(model.NotificationPageCreated, page)
	writeJSON(writer, http.StatusOK, page)
}

func (s *Server) createChildPage(writer http.ResponseWriter, request *http.Request) {
	parentID, ok := pageIDVar(writer, request)
	if !ok {
		return
	}
	var inputs createPageRequest
	if err := s.decodeBody(writer, request, &inputs); err != nil || inputs.Title == nil {
		slog.Warn("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetPage(request.Context(), parentID); err != nil {
		s.writeStoreError(writer, "failed to get parent page", err)
		return
	}
	page, err := s.store.CreateChildPage(request.Context(), *inputs.Title, parentID)
	if err != nil {
		slog.Error("failed to create child page", "parent", parentID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.notify(model.NotificationPageCreated, page)
	writeJSON(writer, http.StatusOK, page)
}

func (s *Server) getPage(writer http.ResponseWriter, request *http.Request) {
	id, ok := pageIDVar(writer, request)
	if !ok {
		return
	}
	page, err := s.store.GetPage(request.Context(), id)
	if err != nil {
		s.writeStoreError(writer, "failed to get page", err)
		return
	}
	blocks, err := s.store.GetBlocksForPage(request.Context(), id)
	if err != nil {
		slog.Error("failed to get blocks", "page", id, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(writer, http.StatusOK, model.PageWithBlocks{Page: *page, Blocks: blocks})
}

// updatePage replaces the title and all blocks of the page. Concurrent updates are last writer wins.
func (s *Server) updatePage(writer http.ResponseWriter, request *http.Request) {
	id, ok := pageIDVar(writer, request)
	if !ok {
		return
	}
	var inputs updatePageRequest
	if err := s.decodeBody(writer, request, &inputs); err != nil {
		slog.Warn("failed to decode body", "page", id, "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if inputs.Title == nil || inputs.Blocks == nil {
		slog.Warn("rejecting update without title or blocks", "page", id)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.store.SavePageContent(request.Context(), id, *inputs.Title, *inputs.Blocks); err != nil {
		s.writeStoreError(writer, "failed to update page", err)
		return
	}
	s.notify(model.NotificationPageSaved, &model.Page{ID: id, Title: *inputs.Title})
	writer.WriteHeader(http.StatusOK)
}

func (s *Server) pageGraph(writer http.ResponseWriter, request *http.Request) {
	pages, err := s.store.GetAllPages(request.Context())
	if err != nil {
		slog.Error("failed to fetch pages", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	var buff bytes.Buffer
	if err := viz.RenderPageTree(pages, graphviz.SVG, &buff); err != nil {
		slog.Error("failed to render page graph", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "image/svg+xml")
	if _, err := buff.WriteTo(writer); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) serveWebsocket(writer http.ResponseWriter, request *http.Request) {
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	session := realtime.NewSession(conn, s.hub, s.opts.Session)
	if err := session.Run(ctx); err != nil {
		slog.Warn("session ended", "session", session.ID(), "err", err)
	}
}

func (s *Server) decodeBody(writer http.ResponseWriter, request *http.Request, into any) error {
	request.Body = http.MaxBytesReader(writer, request.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(request.Body)
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after body")
	}
	return nil
}

// writeStoreError maps ErrNotFound to 404 and anything else to 500. Error details stay in the log.
func (s *Server) writeStoreError(writer http.ResponseWriter, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	slog.Error(msg, "err", err)
	writer.WriteHeader(http.StatusInternalServerError)
}

func pageIDVar(writer http.ResponseWriter, request *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(request)["id"])
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Error("failed to marshal response", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if _, err := writer.Write(raw); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
