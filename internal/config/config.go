package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envMaxAttempts       = "CAPTCHA_MAX_ATTEMPTS"
	envAutoSubmit        = "CAPTCHA_AUTO_SUBMIT"
	envDebugDir          = "CAPTCHA_DEBUG_DIR"
	envBrowser           = "CAPTCHA_BROWSER"
	envHeadless          = "AGENT_HEADLESS"
	envVisionMaxTokens   = "CAPTCHA_VISION_MAX_TOKENS"
	envVisionTemperature = "CAPTCHA_VISION_TEMPERATURE"

	BackendPlaywright = "playwright"
	BackendChromedp   = "chromedp"
)

// Config is the solver configuration. It is immutable once handed to the providers.
type Config struct {
	MaxAttempts int    `yaml:"max_attempts"`
	AutoSubmit  bool   `yaml:"auto_submit"`
	DebugDir    string `yaml:"debug_dir"`

	Browser BrowserConfig `yaml:"browser"`
	Vision  VisionConfig  `yaml:"vision"`
	Timings Timings       `yaml:"timings"`

	Owl        ProviderTimings `yaml:"owl"`
	Recaptcha  ProviderTimings `yaml:"recaptcha"`
	Cloudflare ProviderTimings `yaml:"cloudflare"`
}

type BrowserConfig struct {
	Backend  string `yaml:"backend"`
	Headless bool   `yaml:"headless"`
}

type VisionConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// Timings holds every fixed wait the solver uses. The target pages give no
// completion signal for animations or image loads, so these stay bounded sleeps.
type Timings struct {
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	ScanPollInterval time.Duration `yaml:"scan_poll_interval"`

	CheckboxSettle         time.Duration `yaml:"checkbox_settle"`
	AutoVerifyPollInterval time.Duration `yaml:"auto_verify_poll_interval"`

	ThinkMin time.Duration `yaml:"think_min"`
	ThinkMax time.Duration `yaml:"think_max"`

	DynamicReplaceWait time.Duration `yaml:"dynamic_replace_wait"`
	DynamicMaxRounds   int           `yaml:"dynamic_max_rounds"`
	DynamicIdleRounds  int           `yaml:"dynamic_idle_rounds"`

	ResultPollTimeout   time.Duration `yaml:"result_poll_timeout"`
	ResultPollInterval  time.Duration `yaml:"result_poll_interval"`
	UnclearRecheckDelay time.Duration `yaml:"unclear_recheck_delay"`
	RefreshSettle       time.Duration `yaml:"refresh_settle"`

	PointerStepBase time.Duration `yaml:"pointer_step_base"`
	DwellMin        time.Duration `yaml:"dwell_min"`
	DwellMax        time.Duration `yaml:"dwell_max"`
}

// ProviderTimings are the waits that differ between providers.
type ProviderTimings struct {
	AutoVerifyTimeout time.Duration `yaml:"auto_verify_timeout"`
	ClickGapMin       time.Duration `yaml:"click_gap_min"`
	ClickGapMax       time.Duration `yaml:"click_gap_max"`
	SubmitSettle      time.Duration `yaml:"submit_settle"`
}

func Default() Config {
	return Config{
		MaxAttempts: 5,
		AutoSubmit:  true,
		Browser: BrowserConfig{
			Backend: BackendPlaywright,
		},
		Vision: VisionConfig{
			MaxTokens:   64,
			Temperature: 0.1,
		},
		Timings: DefaultTimings(),
		Owl: ProviderTimings{
			AutoVerifyTimeout: 3 * time.Second,
			ClickGapMin:       150 * time.Millisecond,
			ClickGapMax:       300 * time.Millisecond,
			SubmitSettle:      2 * time.Second,
		},
		Recaptcha: ProviderTimings{
			AutoVerifyTimeout: 5 * time.Second,
			ClickGapMin:       200 * time.Millisecond,
			ClickGapMax:       450 * time.Millisecond,
			SubmitSettle:      3 * time.Second,
		},
		Cloudflare: ProviderTimings{
			AutoVerifyTimeout: 6 * time.Second,
			ClickGapMin:       180 * time.Millisecond,
			ClickGapMax:       400 * time.Millisecond,
			SubmitSettle:      4 * time.Second,
		},
	}
}

func DefaultTimings() Timings {
	return Timings{
		ScanTimeout:            2 * time.Second,
		ScanPollInterval:       50 * time.Millisecond,
		CheckboxSettle:         500 * time.Millisecond,
		AutoVerifyPollInterval: 250 * time.Millisecond,
		ThinkMin:               600 * time.Millisecond,
		ThinkMax:               1200 * time.Millisecond,
		DynamicReplaceWait:     2500 * time.Millisecond,
		DynamicMaxRounds:       5,
		DynamicIdleRounds:      2,
		ResultPollTimeout:      3 * time.Second,
		ResultPollInterval:     250 * time.Millisecond,
		UnclearRecheckDelay:    1500 * time.Millisecond,
		RefreshSettle:          1500 * time.Millisecond,
		PointerStepBase:        8 * time.Millisecond,
		DwellMin:               60 * time.Millisecond,
		DwellMax:               140 * time.Millisecond,
	}
}

// Load builds a Config from defaults, an optional YAML file and env overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(envMaxAttempts)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxAttempts, err)
		}
		c.MaxAttempts = n
	}
	c.AutoSubmit = parseBoolEnv(envAutoSubmit, c.AutoSubmit)
	if v := strings.TrimSpace(os.Getenv(envDebugDir)); v != "" {
		c.DebugDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envBrowser)); v != "" {
		c.Browser.Backend = strings.ToLower(v)
	}
	c.Browser.Headless = parseBoolEnv(envHeadless, c.Browser.Headless)
	if v := strings.TrimSpace(os.Getenv(envVisionMaxTokens)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envVisionMaxTokens, err)
		}
		c.Vision.MaxTokens = n
	}
	if v := strings.TrimSpace(os.Getenv(envVisionTemperature)); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", envVisionTemperature, err)
		}
		c.Vision.Temperature = float32(f)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts))
	}
	switch c.Browser.Backend {
	case BackendPlaywright, BackendChromedp:
	default:
		errs = append(errs, fmt.Errorf("unknown browser backend %q", c.Browser.Backend))
	}
	if c.Vision.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("vision.max_tokens must be positive"))
	}
	errs = append(errs, c.Timings.validate()...)
	for name, pt := range map[string]ProviderTimings{"owl": c.Owl, "recaptcha": c.Recaptcha, "cloudflare": c.Cloudflare} {
		if pt.ClickGapMax < pt.ClickGapMin {
			errs = append(errs, fmt.Errorf("%s: click_gap_max below click_gap_min", name))
		}
	}
	return errors.Join(errs...)
}

func (t Timings) validate() []error {
	var errs []error
	if t.ThinkMax < t.ThinkMin {
		errs = append(errs, errors.New("timings: think_max below think_min"))
	}
	if t.DwellMax < t.DwellMin {
		errs = append(errs, errors.New("timings: dwell_max below dwell_min"))
	}
	if t.DynamicMaxRounds <= 0 {
		errs = append(errs, errors.New("timings: dynamic_max_rounds must be positive"))
	}
	if t.DynamicIdleRounds <= 0 {
		errs = append(errs, errors.New("timings: dynamic_idle_rounds must be positive"))
	}
	if t.ScanPollInterval <= 0 || t.ResultPollInterval <= 0 || t.AutoVerifyPollInterval <= 0 {
		errs = append(errs, errors.New("timings: poll intervals must be positive"))
	}
	return errs
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
