package main

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Ashwin-0055/flowsync/services"
)

// Config is read from the environment, optionally seeded from a .env file
type Config struct {
	Port        string
	DBPath      string
	JWTSecret   string
	SMTP        services.SMTPConfig
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string
	CORSOrigins []string
	// DevMagicLinks echoes magic links in login responses
	DevMagicLinks bool
}

// LoadConfig loads envFile into the environment, without overriding
// variables that are already set, and reads the configuration
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
			log.Printf("No %s file found, using environment only", envFile)
		}
	}

	return Config{
		Port:      getenv("PORT", "3001"),
		DBPath:    getenv("DB_PATH", "./flowsync.db"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		SMTP: services.SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     os.Getenv("SMTP_PORT"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		LLMAPIKey:     os.Getenv("LLM_API_KEY"),
		LLMBaseURL:    os.Getenv("LLM_BASE_URL"),
		LLMModel:      os.Getenv("LLM_MODEL"),
		CORSOrigins:   splitList(getenv("CORS_ORIGINS", "*")),
		DevMagicLinks: getenvBool("DEV_MAGIC_LINKS"),
	}, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
