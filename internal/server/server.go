package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"imageflow/internal/manifest"
	"imageflow/internal/models"
	"imageflow/internal/storage"
)

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	db       *storage.Storage
	producer *kafka.Writer
}

func NewServer(cfg *models.Config, db *storage.Storage, producer *kafka.Writer) *Server {
	r := gin.Default()
	r.Static("/files", cfg.StoragePath)

	s := &Server{cfg: cfg, router: r, db: db, producer: producer}

	r.POST("/upload", s.handleUpload)
	r.GET("/status/:requestId", s.handleStatus)
	r.POST("/webhook", s.handleWebhook)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

func (s *Server) Stop() {
	// No shutdown needed for gin
}

// handleUpload accepts a manifest file, validates its schema, seeds the
// request, and hands processing off to the pipeline via the queue. The
// request id is returned as soon as ingestion has committed.
func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}

	requestID := uuid.New()
	manifestPath := filepath.Join(s.cfg.UploadDir, requestID.String()+".csv")
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	dst, err := os.Create(manifestPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer dst.Close()

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer f.Close()

	// Schema check reads only the header; nothing is ingested on mismatch
	// and no request is created.
	if err := manifest.Validate(f); err != nil {
		var schemaErr *manifest.SchemaError
		if errors.As(err, &schemaErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": schemaErr.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	ctx := c.Request.Context()
	req := models.Request{ID: requestID, ManifestRef: file.Filename, Status: models.StatusProcessing}
	if err := s.db.CreateRequest(ctx, &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if _, err := manifest.Ingest(ctx, s.db, requestID, f); err != nil {
		// A malformed row voids the whole batch: the request stays visible
		// as FAILED with zero entries.
		if ferr := s.db.MarkRequestFailed(ctx, requestID); ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, ferr)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"requestId": requestID.String(), "error": err.Error()})
		return
	}

	if err := s.producer.WriteMessages(ctx, kafka.Message{Value: []byte(requestID.String())}); err != nil {
		if ferr := s.db.MarkRequestFailed(ctx, requestID); ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, ferr)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"requestId": requestID.String()})
}

// handleStatus reports the distinct entry statuses currently committed for
// a request. It never waits on in-flight work.
func (s *Server) handleStatus(c *gin.Context) {
	const op = "server.handleStatus"

	requestID, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	ctx := c.Request.Context()
	statuses, err := s.db.GetDistinctStatuses(ctx, requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if len(statuses) == 0 {
		// No entries: either an unknown id or a manifest rejected before
		// ingestion. The request row disambiguates.
		req, err := s.db.GetRequest(ctx, requestID)
		if errors.Is(err, storage.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
			return
		}
		statuses = []models.Status{req.Status}
	}

	details := make([]gin.H, 0, len(statuses))
	for _, st := range statuses {
		details = append(details, gin.H{"status": st})
	}
	c.JSON(http.StatusOK, gin.H{"requestId": requestID.String(), "details": details})
}

// handleWebhook acknowledges completion notifications posted back to us.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Printf("Webhook received: %s", body)
	c.String(http.StatusOK, "Webhook received")
}
