package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kaewkloaw/CallSense/internal/api"
	"github.com/Kaewkloaw/CallSense/internal/classifier"
)

func main() {
	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	classifierCfg := classifier.Config{
		BaseURL: os.Getenv("MODEL_API_URL"),
	}
	if timeout := os.Getenv("MODEL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			classifierCfg.Timeout = d
		}
	}

	cfg := api.Config{
		RecordsPath:      filepath.Join(baseDir, "records", "predictions.csv"),
		UploadDir:        filepath.Join(baseDir, "mp3_files"),
		ClassifierConfig: classifierCfg,
	}

	if override := strings.TrimSpace(os.Getenv("RECORDS_PATH")); override != "" {
		cfg.RecordsPath = override
	}
	if override := strings.TrimSpace(os.Getenv("UPLOAD_DIR")); override != "" {
		cfg.UploadDir = override
	}
	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer server.Close()

	router := server.Router()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	logrus.Infof("starting callsense backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
