package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/cramcortex-be/database"
	services "github.com/tieubaoca/cramcortex-be/service"
	"github.com/tieubaoca/cramcortex-be/types"
)

// SearchHandler answers similar-question queries against the audit index.
type SearchHandler struct {
	store    *database.WeaviateStore
	embedder services.Embedder
}

func NewSearchHandler(store *database.WeaviateStore, embedder services.Embedder) *SearchHandler {
	return &SearchHandler{
		store:    store,
		embedder: embedder,
	}
}

func (h *SearchHandler) HandleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "q parameter is required",
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))

	vectors, err := h.embedder.Embed(c.Request.Context(), []string{query})
	if err != nil || len(vectors) == 0 {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "failed to embed query",
		})
		return
	}

	results, err := h.store.SearchSimilar(c.Request.Context(), vectors[0], limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "Search failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   results,
	})
}
