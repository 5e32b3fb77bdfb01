package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	services "github.com/tieubaoca/cramcortex-be/service"
	"github.com/tieubaoca/cramcortex-be/types"
)

type AnalysisHandler struct {
	analyzer *services.AnalyzeService
	watcher  *services.WatchService
}

func NewAnalysisHandler(analyzer *services.AnalyzeService, watcher *services.WatchService) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer: analyzer,
		watcher:  watcher,
	}
}

// HandleAnalyze starts the pipeline for an uploaded document and returns
// immediately; progress is available via the status endpoint.
func (h *AnalysisHandler) HandleAnalyze(c *gin.Context) {
	var req types.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DocumentID == "" {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "document_id is required",
		})
		return
	}

	if err := h.analyzer.Start(req.DocumentID); err != nil {
		c.JSON(http.StatusConflict, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}

	status, _ := h.analyzer.Status(req.DocumentID)
	c.JSON(http.StatusAccepted, types.DataResponse{
		Status: true,
		Data:   status,
	})
}

func (h *AnalysisHandler) HandleStatus(c *gin.Context) {
	documentID := c.Param("id")
	status, err := h.analyzer.Status(documentID)
	if err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   status,
	})
}

func (h *AnalysisHandler) HandleResult(c *gin.Context) {
	documentID := c.Param("id")
	result, err := h.analyzer.Result(documentID)
	switch {
	case errors.Is(err, types.ErrAnalysisNotFound):
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
	case errors.Is(err, types.ErrAnalysisRunning):
		c.JSON(http.StatusConflict, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusOK, types.DataResponse{
			Status: true,
			Data:   result,
		})
	}
}

// HandleCancel aborts a running analysis.
func (h *AnalysisHandler) HandleCancel(c *gin.Context) {
	documentID := c.Param("id")
	if err := h.analyzer.Cancel(documentID); err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status:  true,
		Message: "analysis cancelled",
	})
}

// HandleWatch upgrades to a websocket and streams stage transitions.
func (h *AnalysisHandler) HandleWatch(c *gin.Context) {
	h.watcher.HandleWatch(c.Writer, c.Request, c.Param("id"))
}
