package handler

import (
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/gin-gonic/gin"
)

// DocumentHandler 项目文档处理器
type DocumentHandler struct {
	svc *service.DocumentService
}

func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// Upload 上传项目文档
// POST /api/v1/projects/:id/documents (multipart: file, requirement_key)
func (h *DocumentHandler) Upload(c *gin.Context) {
	projectID := c.Param("id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "file is required")
		return
	}
	requirementKey := c.PostForm("requirement_key")

	file, err := fileHeader.Open()
	if err != nil {
		BadRequest(c, "无法读取上传文件: "+err.Error())
		return
	}
	defer file.Close()

	doc, err := h.svc.UploadDocument(
		c.Request.Context(),
		GetActor(c),
		projectID,
		requirementKey,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
	)
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, doc)
}

// List 项目文档列表
// GET /api/v1/projects/:id/documents
func (h *DocumentHandler) List(c *gin.Context) {
	projectID := c.Param("id")

	docs, err := h.svc.ListDocuments(c.Request.Context(), projectID)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, gin.H{"items": docs})
}
