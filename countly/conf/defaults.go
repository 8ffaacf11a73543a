package conf

const (
	defaultSessionDuration       = 60
	defaultEventQueueThreshold   = 100
	defaultRequestQueueThreshold = 1000
	defaultBreadcrumbThreshold   = 100
	defaultHTTPTimeout           = 30
	defaultSessionUpdatePeriod   = 3
	defaultRedisHost             = "localhost"
	defaultRedisPort             = 6379
	defaultRedisDb               = 0
	defaultRedisPrefix           = "countly"
	defaultHTTPPort              = 80
	defaultHTTPSPort             = 443
)

// Storage modes
const (
	StorageModeMemory = "memory"
	StorageModeBadger = "badger"
	StorageModeRedis  = "redis"
)
