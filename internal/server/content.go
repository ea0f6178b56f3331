// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/morganforge/coachline/internal/content"
	"github.com/morganforge/coachline/internal/logger"
	"github.com/morganforge/coachline/internal/response"
)

const (
	maxContentBody = 256 << 10

	// eventHeartbeat keeps idle event streams alive through proxies.
	eventHeartbeat = 25 * time.Second
	eventBuffer    = 32
)

// ============================================================================
// TEXT ENTRIES
// ============================================================================

// ContentListResponse is the body of GET /api/content/{lang}.
type ContentListResponse struct {
	Lang    string          `json:"lang"`
	Entries []content.Entry `json:"entries"`
}

// PutContentRequest is the body of PUT /api/content/{lang}/{key}.
type PutContentRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	lang, err := content.NormalizeLang(r.PathValue("lang"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.content.List(r.Context(), lang)
	if err != nil {
		s.writeContentError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, ContentListResponse{Lang: lang, Entries: entries})
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	entry, err := s.content.Get(r.Context(), r.PathValue("lang"), r.PathValue("key"))
	if err != nil {
		s.writeContentError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, entry)
}

func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	var req PutContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.content.Put(r.Context(), content.Entry{
		Key:   r.PathValue("key"),
		Lang:  r.PathValue("lang"),
		Value: req.Value,
	})
	if err != nil {
		s.writeContentError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "content updated", "lang", entry.Lang, "key", entry.Key)
	response.JSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	if err := s.content.Delete(r.Context(), r.PathValue("lang"), r.PathValue("key")); err != nil {
		s.writeContentError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "content deleted", "lang", r.PathValue("lang"), "key", r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// IMAGES
// ============================================================================

// ImageListResponse is the body of GET /api/images.
type ImageListResponse struct {
	Images []content.Image `json:"images"`
}

// PutImageRequest is the body of PUT /api/images/{key}.
type PutImageRequest struct {
	URL string `json:"url"`
	Alt string `json:"alt"`
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.content.Images(r.Context())
	if err != nil {
		s.writeContentError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, ImageListResponse{Images: images})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.content.Image(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeContentError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, img)
}

func (s *Server) handlePutImage(w http.ResponseWriter, r *http.Request) {
	var req PutImageRequest
	if err := decodeBody(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		response.Error(w, http.StatusBadRequest, "url is required")
		return
	}

	img, err := s.content.PutImage(r.Context(), content.Image{
		Key: r.PathValue("key"),
		URL: req.URL,
		Alt: req.Alt,
	})
	if err != nil {
		s.writeContentError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "image updated", "key", img.Key)
	response.JSON(w, http.StatusOK, img)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.content.DeleteImage(r.Context(), r.PathValue("key")); err != nil {
		s.writeContentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// CHANGE EVENTS
// ============================================================================

// handleContentEvents streams content changes as server-sent events until the
// client disconnects. Slow clients lose events rather than stall writers.
func (s *Server) handleContentEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	events := make(chan content.Change, eventBuffer)
	unsubscribe := s.content.Subscribe(func(c content.Change) {
		select {
		case events <- c:
		default:
			s.log.WarnContext(ctx, "content event dropped", "key", c.Key)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.log.WarnContext(ctx, "event stream cannot flush", logger.Err(err))
		return
	}

	heartbeat := time.NewTicker(eventHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}

		case c := <-events:
			data, err := json.Marshal(c)
			if err != nil {
				s.log.ErrorContext(ctx, "encoding content event", logger.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContentBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) writeContentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, content.ErrInvalidKey), errors.Is(err, content.ErrInvalidLang):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, content.ErrClosed):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.ErrorContext(r.Context(), "content store failure", logger.Err(err))
		response.Error(w, http.StatusInternalServerError, "content store error")
	}
}
