// Package conf contains configuration structures used to setup the SDK
package conf

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os/user"
	"path"
	"strings"

	"github.com/countly/countly-go-sdk/countly/events"
	"github.com/countly/countly-go-sdk/countly/service"
	"github.com/countly/countly-go-sdk/countly/service/dtos"
	"github.com/splitio/go-toolkit/v5/datastructures/set"
	"github.com/splitio/go-toolkit/v5/logging"
)

// CountlyConfig struct ...
// struct used to setup a Countly SDK client.
//
// Parameters:
// - ServerURL (Required before Start) Collector host, with or without scheme
// - Port (Optional) Collector port. Defaults to 443 for https and 80 otherwise
// - AppKey (Required before Start) Application key issued by the collector
// - DeviceID (Optional) Device identifier. A random one is generated when empty
// - Salt (Optional) When set, every request carries a checksum256 parameter
// - SessionDuration (Optional) Seconds between automatic session_duration requests
// - EventQueueThreshold (Optional) Events queued before they are flushed into a request
// - RequestQueueThreshold (Optional) Requests kept before the oldest one is dropped
// - BreadcrumbThreshold (Optional) Breadcrumbs kept for crash reports
// - ForcePost (Optional) Send every request with POST regardless of its size
// - RemoteConfigAutoFetch (Optional) Fetch remote config each time a session begins
// - StorageMode (Optional) One of ["memory", "badger", "redis"]
// - StoragePath (Required for "badger") Directory holding the persistent request log
// - Redis (Required for "redis") Redis connection parameters
// - TaskPeriods (Optional) How often should each background task run
// - Metrics (Optional) Device metrics sent with begin_session requests
// - HashFunction (Optional) Checksum function, SHA-256 by default
// - Transport (Optional) Custom transport. An HTTP transport is used when nil
// - Logger: (Optional) Custom logger complying with logging.LoggerInterface
// - LoggerConfig: (Optional) Options to setup the sdk's own logger
type CountlyConfig struct {
	ServerURL             string                  `yaml:"server_url"`
	Port                  int                     `yaml:"port"`
	AppKey                string                  `yaml:"app_key"`
	DeviceID              string                  `yaml:"device_id"`
	Salt                  string                  `yaml:"salt"`
	SessionDuration       int                     `yaml:"session_duration"`
	EventQueueThreshold   int                     `yaml:"event_queue_threshold"`
	RequestQueueThreshold int                     `yaml:"request_queue_threshold"`
	BreadcrumbThreshold   int                     `yaml:"breadcrumb_threshold"`
	ForcePost             bool                    `yaml:"force_post"`
	RemoteConfigAutoFetch bool                    `yaml:"remote_config_auto_fetch"`
	HTTPTimeout           int                     `yaml:"http_timeout"`
	StorageMode           string                  `yaml:"storage_mode"`
	StoragePath           string                  `yaml:"storage_path"`
	Redis                 RedisConfig             `yaml:"redis"`
	TaskPeriods           TaskPeriods             `yaml:"task_periods"`
	Metrics               dtos.Metrics            `yaml:"metrics"`
	HashFunction          func(string) string     `yaml:"-"`
	Transport             service.Transport       `yaml:"-"`
	Logger                logging.LoggerInterface `yaml:"-"`
	LoggerConfig          logging.LoggerOptions   `yaml:"-"`
}

// TaskPeriods struct is used to configure the period (in seconds) for each background task
type TaskPeriods struct {
	SessionUpdate int `yaml:"session_update"`
}

// RedisConfig struct is used to cofigure the redis parameters
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database int    `yaml:"database"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Default returns a config struct with all the default values
func Default() *CountlyConfig {
	var storagePath string
	usr, err := user.Current()
	if err != nil {
		storagePath = "countly"
	} else {
		storagePath = path.Join(usr.HomeDir, ".countly")
	}

	return &CountlyConfig{
		SessionDuration:       defaultSessionDuration,
		EventQueueThreshold:   defaultEventQueueThreshold,
		RequestQueueThreshold: defaultRequestQueueThreshold,
		BreadcrumbThreshold:   defaultBreadcrumbThreshold,
		HTTPTimeout:           defaultHTTPTimeout,
		StorageMode:           StorageModeMemory,
		StoragePath:           storagePath,
		HashFunction:          SHA256,
		LoggerConfig:          logging.LoggerOptions{},
		Redis: RedisConfig{
			Host:     defaultRedisHost,
			Port:     defaultRedisPort,
			Database: defaultRedisDb,
			Prefix:   defaultRedisPrefix,
		},
		TaskPeriods: TaskPeriods{
			SessionUpdate: defaultSessionUpdatePeriod,
		},
	}
}

// Normalize checks that the parameters passed by the user are correct and updates parameters if necessary.
// returns an error if something is wrong
func Normalize(cfg *CountlyConfig) error {
	if cfg == nil {
		return errors.New("configuration must not be nil")
	}

	storageModes := set.NewSet(
		StorageModeMemory,
		StorageModeBadger,
		StorageModeRedis,
	)
	if cfg.StorageMode == "" {
		cfg.StorageMode = StorageModeMemory
	}
	if !storageModes.Has(cfg.StorageMode) {
		return fmt.Errorf("StorageMode parameter must be one of: %v", storageModes.List())
	}

	if cfg.StorageMode == StorageModeBadger && strings.TrimSpace(cfg.StoragePath) == "" {
		return errors.New("StoragePath must be set when using badger storage")
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("Port must be between 0 and 65535. Actual is: %d", cfg.Port)
	}

	if cfg.SessionDuration < 1 {
		return fmt.Errorf("SessionDuration must be >= 1. Actual is: %d", cfg.SessionDuration)
	}

	if cfg.RequestQueueThreshold < 1 {
		return fmt.Errorf("RequestQueueThreshold must be >= 1. Actual is: %d", cfg.RequestQueueThreshold)
	}

	if cfg.BreadcrumbThreshold < 1 {
		return fmt.Errorf("BreadcrumbThreshold must be >= 1. Actual is: %d", cfg.BreadcrumbThreshold)
	}

	if cfg.TaskPeriods.SessionUpdate < 1 {
		return fmt.Errorf("SessionUpdate must be >= 1. Actual is: %d", cfg.TaskPeriods.SessionUpdate)
	}

	// Event queue threshold is clamped rather than rejected
	cfg.EventQueueThreshold = events.ClampThreshold(cfg.EventQueueThreshold)

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}

	if cfg.HashFunction == nil {
		cfg.HashFunction = SHA256
	}

	return nil
}

// ResolveHost adds the http:// scheme to hosts given without one and picks the
// default port for the scheme when port is 0
func ResolveHost(host string, port int) (string, int) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}

	if port == 0 {
		if strings.HasPrefix(host, "https://") {
			port = defaultHTTPSPort
		} else {
			port = defaultHTTPPort
		}
	}

	return host, port
}

// SHA256 returns the lowercase hex SHA-256 digest of data
func SHA256(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
