package server

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

type queryRequest struct {
	Question string `json:"question"`
}

type documentResponse struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

func (s *Server) health(c *gin.Context) {
	generator := "available"
	if !s.pipeline.HasGenerator() {
		generator = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"generator": generator,
	})
}

func (s *Server) createSession(c *gin.Context) {
	session, err := s.newSession(false)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": session.ID})
}

func (s *Server) deleteSession(c *gin.Context) {
	if !s.dropSession(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// requireGenerator rejects requests while no answer generator is configured.
func (s *Server) requireGenerator(c *gin.Context) {
	if !s.pipeline.HasGenerator() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "service unavailable: " + types.ErrMissingCredential.Error(),
		})
		return
	}
	c.Next()
}

func (s *Server) uploadDocument(c *gin.Context) {
	session, ok := s.session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var (
		doc *models.Document
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		doc, err = s.documentFromUpload(c)
	} else {
		var req urlRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + bindErr.Error()})
			return
		}
		doc, err = s.loader.Fetch(c.Request.Context(), req.URL)
		if err != nil && types.KindOf(err) == types.KindUnknown {
			log.Printf("SERVER ERROR: fetch %s: %v", req.URL, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	chunks, err := s.pipeline.Process(c.Request.Context(), session, doc, nil)
	if err != nil {
		log.Printf("SERVER ERROR: session %s: %v", session.ID, err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, documentResponse{Name: doc.Name, Chunks: chunks})
}

func (s *Server) documentFromUpload(c *gin.Context) (*models.Document, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing multipart field \"file\"", types.ErrEmptyDocument)
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.loader.Config().MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	if docType := c.PostForm("type"); docType != "" {
		return s.loader.LoadType(docType, header.Filename, data)
	}
	return s.loader.Load(header.Filename, data)
}

func (s *Server) query(c *gin.Context) {
	session, ok := s.session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	answer, err := s.pipeline.Ask(c.Request.Context(), session, req.Question)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answer)
}
