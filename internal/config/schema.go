package config

// Config holds folio configuration.
// Stored at: ./config.yaml or ~/.folio/config.yaml
type Config struct {
	Reader     ReaderCfg     `mapstructure:"reader" yaml:"reader"`
	Capture    CaptureCfg    `mapstructure:"capture" yaml:"capture"`
	OCR        OCRCfg        `mapstructure:"ocr" yaml:"ocr"`
	Transcribe TranscribeCfg `mapstructure:"transcribe" yaml:"transcribe"`
}

// ReaderCfg configures the browser-backed reader session.
type ReaderCfg struct {
	// BaseURL is the web reader entry point. The book ID is appended as the
	// asin query parameter.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// Headless runs the browser without a window. Login flows need a window,
	// so this defaults to false.
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// SettleTimeoutSeconds bounds each wait for the reader UI to settle.
	SettleTimeoutSeconds int `mapstructure:"settle_timeout_seconds" yaml:"settle_timeout_seconds"`
	// LoginTimeoutSeconds bounds the manual login wait on first run.
	LoginTimeoutSeconds int `mapstructure:"login_timeout_seconds" yaml:"login_timeout_seconds"`
}

// CaptureCfg configures the navigation capture engine.
type CaptureCfg struct {
	// IntervalSeconds is the wait after each page turn before reading the
	// next view. This lets client-side rendering settle; it is a correctness
	// requirement, not a rate limit.
	IntervalSeconds float64 `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	// TurnTimeoutSeconds bounds the wait for page content to change after a
	// next-page click before retrying the click.
	TurnTimeoutSeconds int `mapstructure:"turn_timeout_seconds" yaml:"turn_timeout_seconds"`
	// TurnRetries is the number of extra next-page clicks attempted when the
	// content signature does not change.
	TurnRetries int `mapstructure:"turn_retries" yaml:"turn_retries"`
	// EndMatterPatterns are case-insensitive regexes matched against TOC
	// titles to find the first end-matter section. Policy, not code: books
	// with unusual back matter can override this list.
	EndMatterPatterns []string `mapstructure:"end_matter_patterns" yaml:"end_matter_patterns"`
	// EndMatterMinRatio is how far through the book (current/total) a TOC
	// entry must sit before an end-matter title match is trusted.
	EndMatterMinRatio float64 `mapstructure:"end_matter_min_ratio" yaml:"end_matter_min_ratio"`
}

// OCRCfg configures the hosted vision endpoint used for both passes.
type OCRCfg struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// Model runs pass 1 (literal transcription).
	Model string `mapstructure:"model" yaml:"model"`
	// QAModel runs pass 2 (correction). Defaults to Model when empty.
	QAModel string `mapstructure:"qa_model" yaml:"qa_model"`
	// APIKey supports ${ENV_VAR} syntax.
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	RateLimit       float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	MaxRetries      int     `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
}

// TranscribeCfg configures transcription run policy.
type TranscribeCfg struct {
	// MaxFailureRatio is the share of unique images allowed to fail before
	// the run exits non-zero.
	MaxFailureRatio float64 `mapstructure:"max_failure_ratio" yaml:"max_failure_ratio"`
}

// DefaultEndMatterPatterns is the stock end-matter heuristic set.
var DefaultEndMatterPatterns = []string{
	`acknowledgements`,
	`acknowledgments`,
	`^discover more$`,
	`^extras$`,
	`about the author`,
	`meet the author`,
	`^also by `,
	`^copyright$`,
	` teaser$`,
	` preview$`,
	`^excerpt from`,
	`^cast of characters$`,
	`^timeline$`,
	`^other titles`,
	` books by `,
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Reader: ReaderCfg{
			BaseURL:              "https://read.amazon.com/",
			Headless:             false,
			SettleTimeoutSeconds: 8,
			LoginTimeoutSeconds:  300,
		},
		Capture: CaptureCfg{
			IntervalSeconds:    1.0,
			TurnTimeoutSeconds: 8,
			TurnRetries:        2,
			EndMatterPatterns:  DefaultEndMatterPatterns,
			EndMatterMinRatio:  0.9,
		},
		OCR: OCRCfg{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-5",
			QAModel:         "gpt-5",
			APIKey:          "${OPENAI_API_KEY}",
			RateLimit:       2.0,
			MaxRetries:      3,
			TimeoutSeconds:  120,
			MaxOutputTokens: 4000,
		},
		Transcribe: TranscribeCfg{
			MaxFailureRatio: 0.10,
		},
	}
}
