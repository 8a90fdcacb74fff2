package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"omr-grader/internal/logger"
	"omr-grader/internal/omr"
)

type Config struct {
	Port string

	WorkDir       string
	Retention     time.Duration
	SweepInterval time.Duration

	Engine         string
	Languages      []string
	OllamaURL      string
	OllamaModel    string
	GeminiAPIKey   string
	GeminiModel    string
	Timeout        time.Duration
	MaxConcurrency int

	Alphabet       string
	MaxDimension   int
	CompareCanvas  int
	TotalQuestions int
	MaxUploadBytes int64

	DatabaseURL string
	ResultsCSV  string

	Debug bool
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnf("config: ignoring .env: %v", err)
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		WorkDir:       getEnv("WORK_DIR", filepath.Join(".", "data")),
		Retention:     getDuration("RETENTION", time.Hour),
		SweepInterval: getDuration("SWEEP_INTERVAL", time.Hour),

		Engine:         strings.ToLower(getEnv("OCR_ENGINE", "tesseract")),
		Languages:      splitList(getEnv("OCR_LANGUAGES", "eng")),
		OllamaURL:      getEnv("OLLAMA_URL", ""),
		OllamaModel:    getEnv("OLLAMA_MODEL", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		Timeout:        getDuration("RECOGNITION_TIMEOUT", 30*time.Second),
		MaxConcurrency: getInt("MAX_CONCURRENT_RECOGNITIONS", 2),

		Alphabet:       strings.ToUpper(getEnv("ANSWER_ALPHABET", omr.DefaultAlphabet)),
		MaxDimension:   getInt("MAX_DIMENSION", 1500),
		CompareCanvas:  getInt("COMPARE_CANVAS", 600),
		TotalQuestions: getInt("TOTAL_QUESTIONS", 20),
		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		ResultsCSV:  getEnv("RESULTS_CSV", ""),

		Debug: getEnv("DEBUG", "") == "1",
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.Warnf("config: %s=%q is not a positive integer, using %d", k, v, def)
		return def
	}
	return n
}

func getDuration(k string, def time.Duration) time.Duration {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warnf("config: %s=%q is not a positive duration, using %s", k, v, def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' || r == ' ' }) {
		out = append(out, p)
	}
	return out
}
