package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/cramcortex-be/database"
	services "github.com/tieubaoca/cramcortex-be/service"
	"github.com/tieubaoca/cramcortex-be/types"
)

type DocumentHandler struct {
	fileService *services.FileService
	store       *database.WeaviateStore
}

func NewDocumentHandler(fileService *services.FileService, store *database.WeaviateStore) *DocumentHandler {
	return &DocumentHandler{
		fileService: fileService,
		store:       store,
	}
}

// ServeDocument streams the stored file for a document id.
func (h *DocumentHandler) ServeDocument(c *gin.Context) {
	documentID := c.Param("id")
	path, contentType, err := h.fileService.Resolve(documentID)
	if err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: "File not found",
		})
		return
	}

	c.Header("Content-Type", contentType)
	c.File(path)
}

// DeleteDocument removes the stored file and its indexed questions.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	documentID := c.Param("id")
	if err := h.fileService.Delete(documentID); err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}
	if h.store != nil {
		if err := h.store.DeleteByDocument(c.Request.Context(), documentID); err != nil {
			// the file is already gone, report success but log the leftover
			log.Printf("failed to remove indexed questions of %s: %v", documentID, err)
		}
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status:  true,
		Message: "Document deleted",
	})
}
