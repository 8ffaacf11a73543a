package client

import (
	"fmt"
	"sync"

	"github.com/countly/countly-go-sdk/countly/conf"
	"github.com/countly/countly-go-sdk/countly/storage"
	"github.com/countly/countly-go-sdk/countly/storage/badgerdb"
	"github.com/countly/countly-go-sdk/countly/storage/inmemory"
	"github.com/countly/countly-go-sdk/countly/storage/redisdb"
	"github.com/splitio/go-toolkit/v5/logging"
)

var instancesMutex sync.Mutex
var clientInstances = make(map[string]int64)

// NewCountlyClient normalizes cfg, builds the logger and the request storage it asks for
// and returns a client ready to Start. A nil cfg uses the defaults.
func NewCountlyClient(cfg *conf.CountlyConfig) (*Client, error) {
	if cfg == nil {
		cfg = conf.Default()
	}

	logger := setupLogger(cfg)
	if err := conf.Normalize(cfg); err != nil {
		logger.Error(err.Error())
		return nil, err
	}

	store, err := setupStorage(cfg, logger)
	if err != nil {
		logger.Error(err.Error())
		return nil, err
	}
	store.Init()

	trackInstance(cfg.AppKey, logger)
	client := NewClient(cfg, store, logger)
	appKey := cfg.AppKey
	client.trackedAppKey = &appKey
	return client, nil
}

// NewCountlyClientFromFile builds a client from a YAML configuration file
func NewCountlyClientFromFile(filename string) (*Client, error) {
	cfg, err := conf.LoadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewCountlyClient(cfg)
}

// setupLogger sets up the logger according to the parameters submitted by the sdk user
func setupLogger(cfg *conf.CountlyConfig) logging.LoggerInterface {
	var logger logging.LoggerInterface
	if cfg.Logger != nil {
		logger = cfg.Logger
	} else {
		logger = logging.NewLogger(&cfg.LoggerConfig)
	}
	return logger
}

func setupStorage(cfg *conf.CountlyConfig, logger logging.LoggerInterface) (storage.RequestStorage, error) {
	switch cfg.StorageMode {
	case conf.StorageModeMemory:
		return inmemory.NewRequestsStorage(), nil
	case conf.StorageModeBadger:
		return badgerdb.NewRequestsStorage(badgerdb.Config{Path: cfg.StoragePath}, logger), nil
	case conf.StorageModeRedis:
		return redisdb.NewRequestsStorage(redisdb.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Database: cfg.Redis.Database,
			Password: cfg.Redis.Password,
			Prefix:   cfg.Redis.Prefix,
		}, logger), nil
	}
	return nil, fmt.Errorf("Invalid storage mode \"%s\"", cfg.StorageMode)
}

func trackInstance(appKey string, logger logging.LoggerInterface) {
	instancesMutex.Lock()
	defer instancesMutex.Unlock()

	if current := clientInstances[appKey]; current > 0 {
		logger.Warning(fmt.Sprintf("Client Instantiation: You already have %d client(s) with this app key. "+
			"Several clients sharing a request storage may deliver requests twice.", current))
	} else if len(clientInstances) > 0 {
		logger.Warning("Client Instantiation: You already have an instance of the Countly client. " +
			"Make sure you definitely want this additional instance.")
	}
	clientInstances[appKey]++
}

func untrackInstance(appKey string) {
	instancesMutex.Lock()
	defer instancesMutex.Unlock()

	if clientInstances[appKey] <= 1 {
		delete(clientInstances, appKey)
		return
	}
	clientInstances[appKey]--
}
