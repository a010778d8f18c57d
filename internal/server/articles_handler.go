package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pressgate/pressgate/internal/articles"
	"github.com/pressgate/pressgate/internal/observability"
)

// articlesHandler serves the read-only content catalog.
type articlesHandler struct {
	store  *articles.Store
	logger observability.Logger
}

func (h *articlesHandler) list(c *gin.Context) {
	filter := articles.ListFilter{
		CategorySlug: c.Query("category"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondMessage(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondMessage(c, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	list, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list articles", observability.Error(err))
		respondInternal(c)
		return
	}
	respondData(c, http.StatusOK, list)
}

func (h *articlesHandler) get(c *gin.Context) {
	id := c.Param("id")
	art, err := h.store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, articles.ErrNotFound):
		respondMessage(c, http.StatusNotFound, "Article not found")
		return
	case err != nil:
		h.logger.Error("get article", observability.String("article_id", id), observability.Error(err))
		respondInternal(c)
		return
	}
	respondData(c, http.StatusOK, art)
}

func (h *articlesHandler) categories(c *gin.Context) {
	list, err := h.store.Categories(c.Request.Context())
	if err != nil {
		h.logger.Error("list categories", observability.Error(err))
		respondInternal(c)
		return
	}
	respondData(c, http.StatusOK, list)
}
