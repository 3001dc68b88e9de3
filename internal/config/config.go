package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/meetscribe/internal/llm"
)

// EnvPrefix is the namespace prefix for all meetscribe environment variables.
const EnvPrefix = "MEETSCRIBE_"

const defaultHTTPTimeout = 60 * time.Second

// Config holds all application configuration. Secrets (API keys, SMTP
// password) are loaded exclusively from environment variables and never
// appear in the config file.
type Config struct {
	DBPath                string   `yaml:"db_path"`
	ListenAddr            string   `yaml:"listen_addr"`
	SampleRate            int      `yaml:"sample_rate"`
	FramesPerBuffer       int      `yaml:"frames_per_buffer"`
	SystemAudioDevice     string   `yaml:"system_audio_device"`
	DeepgramBaseURL       string   `yaml:"deepgram_base_url"`
	DeepgramLanguage      string   `yaml:"deepgram_language"`
	HTTPTimeout           string   `yaml:"http_timeout"`
	SummaryModel          string   `yaml:"summary_model"`
	SummaryStructure      []string `yaml:"summary_structure"`
	SummaryPrompt         string   `yaml:"summary_prompt"`
	SMTPHost              string   `yaml:"smtp_host"`
	SMTPPort              int      `yaml:"smtp_port"`
	SMTPUsername          string   `yaml:"smtp_username"`
	SMTPFrom              string   `yaml:"smtp_from"`
	GDriveFolderID        string   `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string   `yaml:"google_credentials_file"`

	// Secrets, env vars only.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	SMTPPassword    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBPath:                "data/meetscribe.db",
		ListenAddr:            ":5000",
		SampleRate:            16000,
		FramesPerBuffer:       1024,
		DeepgramBaseURL:       "https://api.deepgram.com",
		DeepgramLanguage:      "en-US",
		HTTPTimeout:           "60s",
		SummaryModel:          "openai/gpt-4o-mini",
		SummaryStructure:      []string{"Key topics", "Decisions", "Action items"},
		SMTPPort:              587,
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedHTTPTimeout returns HTTPTimeout as a time.Duration, falling back to
// 60s if the value is invalid.
func (c *Config) ParsedHTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return defaultHTTPTimeout
	}
	return d
}

// ProviderKey returns the API key configured for an LLM provider name.
func (c *Config) ProviderKey(provider string) string {
	switch provider {
	case llm.ProviderOpenAI:
		return c.OpenAIAPIKey
	case llm.ProviderAnthropic:
		return c.AnthropicAPIKey
	case llm.ProviderGemini:
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// MailEnabled reports whether enough SMTP settings are present to dispatch.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"DB_PATH":                 &cfg.DBPath,
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"SYSTEM_AUDIO_DEVICE":     &cfg.SystemAudioDevice,
		"DEEPGRAM_BASE_URL":       &cfg.DeepgramBaseURL,
		"DEEPGRAM_LANGUAGE":       &cfg.DeepgramLanguage,
		"HTTP_TIMEOUT":            &cfg.HTTPTimeout,
		"SUMMARY_MODEL":           &cfg.SummaryModel,
		"SUMMARY_PROMPT":          &cfg.SummaryPrompt,
		"SMTP_HOST":               &cfg.SMTPHost,
		"SMTP_USERNAME":           &cfg.SMTPUsername,
		"SMTP_FROM":               &cfg.SMTPFrom,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SAMPLE_RATE":       &cfg.SampleRate,
		"FRAMES_PER_BUFFER": &cfg.FramesPerBuffer,
		"SMTP_PORT":         &cfg.SMTPPort,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "SUMMARY_STRUCTURE"); v != "" {
		cfg.SummaryStructure = parseList(v)
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.SMTPPassword = os.Getenv(EnvPrefix + "SMTP_PASSWORD")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured; transcription needs a key set on the session. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}

	provider, _, err := llm.ParseModel(cfg.SummaryModel)
	switch {
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("Invalid summary_model %q; summaries fall back to the basic format.", cfg.SummaryModel))
	case cfg.ProviderKey(provider) == "":
		warnings = append(warnings, fmt.Sprintf("No API key for summary provider %q; summaries fall back to the basic format. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}

	if !cfg.MailEnabled() {
		warnings = append(warnings, "SMTP not configured; mail dispatch is disabled. Set smtp_host and smtp_from.")
	}
	if d, err := time.ParseDuration(cfg.HTTPTimeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid http_timeout %q; using default 60s.", cfg.HTTPTimeout))
	}
	if cfg.SampleRate <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid sample_rate %d; using 16000.", cfg.SampleRate))
		cfg.SampleRate = 16000
	}

	return warnings
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
