// Package config loads the export settings from the environment, an optional
// YAML file and, for endpoints and credentials, the parameter store.
package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/arnaduga/notif-hello-asso/pkg/params"
)

var (
	ErrMissing = errors.New("missing configuration")
	ErrInvalid = errors.New("invalid configuration")
)

// Error lists every missing or invalid key found in one pass. Err is the
// parameter-store failure, if that is what went wrong.
type Error struct {
	Missing []string
	Invalid []string
	Err     error
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	msg := "configuration error: " + strings.Join(parts, "; ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	kind := ErrInvalid
	if len(e.Missing) > 0 {
		kind = ErrMissing
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}

func (e *Error) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

const (
	DefaultEnvironment = "dev"
	DefaultKafkaTopic  = "helloasso.exports"
	DefaultPort        = "8080"
)

type Config struct {
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string

	Bucket     string
	OutputDir  string
	PresignTTL time.Duration

	SuccessSubjectTemplate string
	ErrorSubjectTemplate   string
	SNSTopicARN            string
	KafkaBrokers           string
	KafkaTopic             string

	DatabaseURL    string
	PushgatewayURL string
	Environment    string

	PageSize     int
	MaxPages     int
	TokenTimeout time.Duration
	PageTimeout  time.Duration
	PageRate     float64
	CSVDelimiter rune
	CSVQuoteAll  bool
	Port         string
}

// secret is a value given directly or through a parameter-store name.
type secret struct {
	key      string
	paramKey string
	decrypt  bool
	dst      *string
}

// NewViper reads environment variables and, when file is set, a config file.
// Environment variables win over file values.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("ENVIRONMENT", DefaultEnvironment)
	v.SetDefault("KAFKA_TOPIC", DefaultKafkaTopic)
	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("PAGE_SIZE", 100)
	v.SetDefault("MAX_PAGES", 10000)
	v.SetDefault("TOKEN_TIMEOUT_MS", 10000)
	v.SetDefault("PAGE_TIMEOUT_MS", 30000)
	v.SetDefault("PAGE_RATE_PER_SEC", 0)
	v.SetDefault("CSV_DELIMITER", ";")
	v.SetDefault("CSV_QUOTE_ALL", true)

	if file == "" {
		file = v.GetString("CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load validates every key before any lookup is made, so a misconfigured run
// never reaches the network. Parameter-store names are then resolved through
// r; r may be nil when all values are given directly.
func Load(ctx context.Context, v *viper.Viper, r params.Resolver) (Config, error) {
	cfg := Config{
		Bucket:                 get(v, "S3_BUCKET_NAME"),
		OutputDir:              get(v, "OUTPUT_DIR"),
		SuccessSubjectTemplate: get(v, "SUCCESS_SNS_SUBJECT_TEMPLATE"),
		ErrorSubjectTemplate:   get(v, "ERROR_SNS_SUBJECT_TEMPLATE"),
		SNSTopicARN:            get(v, "SNS_TOPIC_ARN"),
		KafkaBrokers:           get(v, "KAFKA_BROKERS"),
		KafkaTopic:             get(v, "KAFKA_TOPIC"),
		DatabaseURL:            get(v, "DATABASE_URL"),
		PushgatewayURL:         get(v, "PUSHGATEWAY_URL"),
		Environment:            get(v, "ENVIRONMENT"),
		Port:                   get(v, "PORT"),
	}
	cerr := &Error{}

	secrets := []secret{
		{key: "API_URL", paramKey: "API_URL_PARAM_NAME", dst: &cfg.APIURL},
		{key: "API_TOKEN_URL", paramKey: "API_URL_TOKEN_PARAM_NAME", dst: &cfg.TokenURL},
		{key: "API_CLIENT_ID", paramKey: "API_CLIENT_ID_PARAM_NAME", decrypt: true, dst: &cfg.ClientID},
		{key: "API_CLIENT_SECRET", paramKey: "API_CLIENT_SECRET_PARAM_NAME", decrypt: true, dst: &cfg.ClientSecret},
	}
	for _, s := range secrets {
		if get(v, s.key) == "" && get(v, s.paramKey) == "" {
			cerr.Missing = append(cerr.Missing, s.paramKey)
		}
	}

	if cfg.Bucket == "" && cfg.OutputDir == "" {
		cerr.Missing = append(cerr.Missing, "S3_BUCKET_NAME")
	}
	if cfg.SuccessSubjectTemplate == "" {
		cerr.Missing = append(cerr.Missing, "SUCCESS_SNS_SUBJECT_TEMPLATE")
	}
	if cfg.ErrorSubjectTemplate == "" {
		cerr.Missing = append(cerr.Missing, "ERROR_SNS_SUBJECT_TEMPLATE")
	}
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = DefaultKafkaTopic
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}

	switch raw := get(v, "PRESIGNED_URL_EXPIRATION"); {
	case raw == "":
		cerr.Missing = append(cerr.Missing, "PRESIGNED_URL_EXPIRATION")
	default:
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			cerr.Invalid = append(cerr.Invalid, "PRESIGNED_URL_EXPIRATION")
		} else {
			cfg.PresignTTL = time.Duration(n) * time.Second
		}
	}

	cfg.PageSize = positiveInt(v, "PAGE_SIZE", 100, cerr)
	cfg.MaxPages = positiveInt(v, "MAX_PAGES", 10000, cerr)
	cfg.TokenTimeout = time.Duration(positiveInt(v, "TOKEN_TIMEOUT_MS", 10000, cerr)) * time.Millisecond
	cfg.PageTimeout = time.Duration(positiveInt(v, "PAGE_TIMEOUT_MS", 30000, cerr)) * time.Millisecond

	if raw := get(v, "PAGE_RATE_PER_SEC"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate < 0 {
			cerr.Invalid = append(cerr.Invalid, "PAGE_RATE_PER_SEC")
		}
		cfg.PageRate = rate
	}

	delim := get(v, "CSV_DELIMITER")
	if delim == "" {
		delim = ";"
	}
	if utf8.RuneCountInString(delim) != 1 || delim == `"` || delim == "\n" || delim == "\r" {
		cerr.Invalid = append(cerr.Invalid, "CSV_DELIMITER")
	} else {
		cfg.CSVDelimiter, _ = utf8.DecodeRuneInString(delim)
	}
	quoteAll, err := strconv.ParseBool(stringOr(get(v, "CSV_QUOTE_ALL"), "true"))
	if err != nil {
		cerr.Invalid = append(cerr.Invalid, "CSV_QUOTE_ALL")
	}
	cfg.CSVQuoteAll = quoteAll

	if !cerr.empty() {
		return Config{}, cerr
	}

	for _, s := range secrets {
		if direct := get(v, s.key); direct != "" {
			*s.dst = direct
			continue
		}
		name := get(v, s.paramKey)
		if r == nil {
			cerr.Invalid = append(cerr.Invalid, s.paramKey+" (no parameter store)")
			continue
		}
		val, err := r.Get(ctx, name, s.decrypt)
		if err != nil {
			return Config{}, &Error{Invalid: []string{s.paramKey}, Err: fmt.Errorf("resolve %q: %w", name, err)}
		}
		*s.dst = val
	}
	if !cerr.empty() {
		return Config{}, cerr
	}
	return cfg, nil
}

// UsesParameterStore reports whether Load will need a parameter resolver.
func UsesParameterStore(v *viper.Viper) bool {
	pairs := [][2]string{
		{"API_URL", "API_URL_PARAM_NAME"},
		{"API_TOKEN_URL", "API_URL_TOKEN_PARAM_NAME"},
		{"API_CLIENT_ID", "API_CLIENT_ID_PARAM_NAME"},
		{"API_CLIENT_SECRET", "API_CLIENT_SECRET_PARAM_NAME"},
	}
	for _, p := range pairs {
		if get(v, p[0]) == "" && get(v, p[1]) != "" {
			return true
		}
	}
	return false
}

func get(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func positiveInt(v *viper.Viper, key string, def int, cerr *Error) int {
	raw := get(v, key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		cerr.Invalid = append(cerr.Invalid, key)
		return 0
	}
	return n
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
