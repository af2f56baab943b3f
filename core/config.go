package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the environment-derived configuration surface of the worker.
// Zero values are filled in by DefaultConfig; constructors that receive a
// partially populated Config apply the same defaults for unset values.
type Config struct {
	// Controller loop
	PollInterval time.Duration `json:"poll_interval"`
	MaxTaskBatch int           `json:"max_task_batch"`

	// Scheduler
	MaxParallelSteps int           `json:"max_parallel_steps"`
	StepTimeout      time.Duration `json:"step_timeout"`

	// Retry budgets
	TaskRetry RetrySettings `json:"task_retry"`
	StepRetry RetrySettings `json:"step_retry"`

	// Provider enable flags for the detect-labels flow
	Providers ProviderFlags `json:"providers"`

	// Blob store
	BlobBucket   string `json:"blob_bucket"`
	PathTemplate string `json:"path_template"`

	// ProcessorVersion tags cached provider responses and derived artifacts
	ProcessorVersion string `json:"processor_version"`

	// RedisURL enables the Redis task source and artifact cache when set
	RedisURL string `json:"redis_url"`
}

// RetrySettings configures one retry budget.
type RetrySettings struct {
	MaxAttempts  int           `json:"max_attempts"`
	BaseDelay    time.Duration `json:"base_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	JitterFactor float64       `json:"jitter_factor"`
}

// ProviderFlags enables individual analysis providers.
type ProviderFlags struct {
	LabelDetection      bool `json:"label_detection"`
	ObjectTracking      bool `json:"object_tracking"`
	FaceDetection       bool `json:"face_detection"`
	PersonDetection     bool `json:"person_detection"`
	SpeechTranscription bool `json:"speech_transcription"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     5 * time.Second,
		MaxTaskBatch:     10,
		MaxParallelSteps: 4,
		StepTimeout:      15 * time.Minute,
		TaskRetry: RetrySettings{
			MaxAttempts:  3,
			BaseDelay:    5 * time.Second,
			MaxDelay:     5 * time.Minute,
			JitterFactor: 0.1,
		},
		StepRetry: RetrySettings{
			MaxAttempts:  3,
			BaseDelay:    time.Second,
			MaxDelay:     time.Minute,
			JitterFactor: 0.1,
		},
		Providers: ProviderFlags{
			LabelDetection:      true,
			ObjectTracking:      true,
			SpeechTranscription: true,
		},
		BlobBucket:       "media",
		PathTemplate:     "media/{mediaId}/{name}",
		ProcessorVersion: "1.0.0",
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over values already set.
//
// Recognized variables:
//
//	MEDIAWORKER_POLL_INTERVAL_MS, MEDIAWORKER_MAX_TASK_BATCH,
//	MEDIAWORKER_MAX_PARALLEL_STEPS, MEDIAWORKER_STEP_TIMEOUT,
//	MEDIAWORKER_TASK_MAX_ATTEMPTS, MEDIAWORKER_STEP_MAX_ATTEMPTS,
//	MEDIAWORKER_ENABLE_* (per provider), MEDIAWORKER_BLOB_BUCKET,
//	MEDIAWORKER_PATH_TEMPLATE, MEDIAWORKER_PROCESSOR_VERSION,
//	MEDIAWORKER_REDIS_URL (falls back to REDIS_URL)
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MEDIAWORKER_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEDIAWORKER_POLL_INTERVAL_MS: %w", err)
		}
		c.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("MEDIAWORKER_MAX_TASK_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEDIAWORKER_MAX_TASK_BATCH: %w", err)
		}
		c.MaxTaskBatch = n
	}
	if v := os.Getenv("MEDIAWORKER_MAX_PARALLEL_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEDIAWORKER_MAX_PARALLEL_STEPS: %w", err)
		}
		c.MaxParallelSteps = n
	}
	if v := os.Getenv("MEDIAWORKER_STEP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MEDIAWORKER_STEP_TIMEOUT: %w", err)
		}
		c.StepTimeout = d
	}
	if v := os.Getenv("MEDIAWORKER_TASK_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEDIAWORKER_TASK_MAX_ATTEMPTS: %w", err)
		}
		c.TaskRetry.MaxAttempts = n
	}
	if v := os.Getenv("MEDIAWORKER_STEP_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEDIAWORKER_STEP_MAX_ATTEMPTS: %w", err)
		}
		c.StepRetry.MaxAttempts = n
	}

	c.Providers.LabelDetection = envBool("MEDIAWORKER_ENABLE_LABEL_DETECTION", c.Providers.LabelDetection)
	c.Providers.ObjectTracking = envBool("MEDIAWORKER_ENABLE_OBJECT_TRACKING", c.Providers.ObjectTracking)
	c.Providers.FaceDetection = envBool("MEDIAWORKER_ENABLE_FACE_DETECTION", c.Providers.FaceDetection)
	c.Providers.PersonDetection = envBool("MEDIAWORKER_ENABLE_PERSON_DETECTION", c.Providers.PersonDetection)
	c.Providers.SpeechTranscription = envBool("MEDIAWORKER_ENABLE_SPEECH_TRANSCRIPTION", c.Providers.SpeechTranscription)

	if v := os.Getenv("MEDIAWORKER_BLOB_BUCKET"); v != "" {
		c.BlobBucket = v
	}
	if v := os.Getenv("MEDIAWORKER_PATH_TEMPLATE"); v != "" {
		c.PathTemplate = v
	}
	if v := os.Getenv("MEDIAWORKER_PROCESSOR_VERSION"); v != "" {
		c.ProcessorVersion = v
	}
	if v := os.Getenv("MEDIAWORKER_REDIS_URL"); v != "" {
		c.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}

	return c.Validate()
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidInput)
	}
	if c.MaxTaskBatch <= 0 {
		return fmt.Errorf("%w: max task batch must be positive", ErrInvalidInput)
	}
	if c.MaxParallelSteps <= 0 {
		return fmt.Errorf("%w: max parallel steps must be positive", ErrInvalidInput)
	}
	for _, r := range []RetrySettings{c.TaskRetry, c.StepRetry} {
		if r.MaxAttempts <= 0 {
			return fmt.Errorf("%w: retry max attempts must be positive", ErrInvalidInput)
		}
		if r.JitterFactor < 0 || r.JitterFactor > 1 {
			return fmt.Errorf("%w: jitter factor must be in [0,1]", ErrInvalidInput)
		}
	}
	return nil
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
