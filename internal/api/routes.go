package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Kaewkloaw/CallSense/internal/audio"
	"github.com/Kaewkloaw/CallSense/internal/classifier"
	"github.com/Kaewkloaw/CallSense/internal/ingest"
	"github.com/Kaewkloaw/CallSense/internal/ledger"
	"github.com/Kaewkloaw/CallSense/internal/scoring"
	"github.com/Kaewkloaw/CallSense/internal/util"
)

// Config defines server dependencies.
type Config struct {
	RecordsPath      string
	UploadDir        string
	AllowedOrigins   []string
	ClassifierConfig classifier.Config
}

// Server wires HTTP handlers with the ledger, audio storage and classifier.
type Server struct {
	ledger         *ledger.Ledger
	audio          *audio.Store
	classifier     *classifier.Client
	notifier       *RecordNotifier
	allowedOrigins []string
	recordsPath    string
	uploadDir      string
}

// NewServer constructs the API server and takes ownership of the ledger.
func NewServer(cfg Config) (*Server, error) {
	recordsPath := strings.TrimSpace(cfg.RecordsPath)
	if recordsPath == "" {
		recordsPath = filepath.Join("records", "predictions.csv")
	}
	uploadDir := strings.TrimSpace(cfg.UploadDir)
	if uploadDir == "" {
		uploadDir = "mp3_files"
	}

	ldg, err := ledger.Open(recordsPath)
	if err != nil {
		return nil, err
	}

	store, err := audio.NewStore(uploadDir)
	if err != nil {
		ldg.Close()
		return nil, err
	}

	return &Server{
		ledger:         ldg,
		audio:          store,
		classifier:     classifier.NewClient(cfg.ClassifierConfig),
		notifier:       NewRecordNotifier(),
		allowedOrigins: cfg.AllowedOrigins,
		recordsPath:    recordsPath,
		uploadDir:      uploadDir,
	}, nil
}

// Close releases the ledger lock.
func (s *Server) Close() error {
	return s.ledger.Close()
}

// Router configures gin routes.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.handleHealth)
	r.GET("/config", s.handleConfig)
	r.POST("/predict", s.handlePredict)
	r.GET("/records", s.handleRecords)
	r.PATCH("/records/label", s.handleUpdateLabel)
	r.GET("/records/stream", s.handleRecordsStream)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"records_path": s.recordsPath,
		"upload_dir":   s.uploadDir,
	})
}

// handlePredict runs the submission pipeline: validate, store the raw audio,
// classify, score, append to the ledger, respond.
func (s *Server) handlePredict(c *gin.Context) {
	timer := util.StartTimer()
	submissionID := uuid.NewString()
	log := logrus.WithField("submission_id", submissionID)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, http.StatusBadRequest, ingest.ErrMissingFile)
		} else {
			s.renderError(c, http.StatusBadRequest, err)
		}
		return
	}

	if err := ingest.Validate(fileHeader); err != nil {
		log.WithField("filename", fileHeader.Filename).Info("submission rejected")
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	filename := filepath.Base(fileHeader.Filename)

	data, err := readFormFile(fileHeader)
	if err != nil {
		log.WithError(err).Error("read submission")
		s.renderError(c, http.StatusBadRequest, errors.New("could not read uploaded file"))
		return
	}

	storedPath, err := s.audio.Save(filename, data)
	if err != nil {
		log.WithError(err).Error("store submission audio")
		s.renderError(c, http.StatusInternalServerError, errors.New("failed to store audio file"))
		return
	}
	log.WithField("path", storedPath).Debug("audio stored")

	prediction, err := s.classifier.Classify(c.Request.Context(), data, filename)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("submission aborted before classification completed")
			return
		}
		log.WithError(err).Error("classify submission")
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	risk := scoring.Assess(prediction.Nonhuman, prediction.Human)

	record := ledger.Record{
		Timestamp:     time.Now().UTC(),
		Filename:      filename,
		HumanScore:    prediction.Human,
		NonhumanScore: prediction.Nonhuman,
		RiskLevel:     risk.Level,
	}
	// Audit logging is a best-effort side channel: a ledger failure is
	// logged and the response still succeeds.
	if err := s.ledger.Append(record); err != nil {
		log.WithError(err).WithField("filename", filename).Error("append prediction record")
	} else {
		dto := RecordFromModel(record)
		s.notifier.Broadcast(RecordEvent{
			Type:         "record",
			SubmissionID: submissionID,
			Record:       &dto,
		})
	}

	c.JSON(http.StatusOK, PredictionResponse{
		Filename: filename,
		YProb:    ProbabilityDTO{Human: prediction.Human, Nonhuman: prediction.Nonhuman},
		Risk:     risk,
	})

	log.WithFields(logrus.Fields{
		"filename":    filename,
		"risk_type":   risk.RiskType,
		"duration_ms": timer.ElapsedMs(),
	}).Info("prediction served")
}

func (s *Server) handleRecords(c *gin.Context) {
	records, err := s.ledger.ListAll()
	if err != nil {
		logrus.WithError(err).Error("list prediction records")
		s.renderError(c, http.StatusInternalServerError, errors.New("failed to read prediction records"))
		return
	}

	dtos := make([]RecordDTO, 0, len(records))
	for _, record := range records {
		dtos = append(dtos, RecordFromModel(record))
	}
	c.JSON(http.StatusOK, RecordsResponse{Total: len(dtos), Records: dtos})
}

func (s *Server) handleUpdateLabel(c *gin.Context) {
	var req LabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, errors.New("filename and actual_label are required"))
		return
	}

	updated, err := s.ledger.UpdateLabel(req.Filename, req.ActualLabel)
	if err != nil {
		logrus.WithError(err).WithField("filename", req.Filename).Error("update record label")
		s.renderError(c, http.StatusInternalServerError, errors.New("failed to update record label"))
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, LabelResponse{Updated: false})
		return
	}

	logrus.WithFields(logrus.Fields{
		"filename": req.Filename,
		"label":    req.ActualLabel,
	}).Info("record label updated")
	c.JSON(http.StatusOK, LabelResponse{Updated: true})
}

func (s *Server) handleRecordsStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("records websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warn("records websocket unexpected close")
			} else {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("records websocket closed")
			}
			break
		}
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
