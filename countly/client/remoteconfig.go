package client

import (
	"github.com/countly/countly-go-sdk/countly/request"
	"github.com/goccy/go-json"
)

// FetchRemoteConfig fetches every remote config value and merges them into the local cache
func (c *Client) FetchRemoteConfig() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.fetchRemoteConfig(nil, nil)
}

// FetchRemoteConfigForKeys fetches only the given keys
func (c *Client) FetchRemoteConfigForKeys(keys []string) bool {
	if err := c.validator.ValidateRemoteConfigKeys(keys); err != nil {
		c.logger.Error(err.Error())
		return false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.fetchRemoteConfig(keys, nil)
}

// FetchRemoteConfigOmittingKeys fetches every key except the given ones
func (c *Client) FetchRemoteConfigOmittingKeys(keys []string) bool {
	if err := c.validator.ValidateRemoteConfigKeys(keys); err != nil {
		c.logger.Error(err.Error())
		return false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.fetchRemoteConfig(nil, keys)
}

// fetchRemoteConfig must be called with the mutex held. Fetched keys overwrite cached
// ones, keys missing from the answer are kept.
func (c *Client) fetchRemoteConfig(keys []string, omitKeys []string) bool {
	params := map[string]string{"method": "fetch_remote_config"}
	if !c.metrics.IsEmpty() {
		params["metrics"] = c.metrics.JSON()
	}
	if len(keys) > 0 {
		params["keys"] = jsonArray(keys)
	}
	if len(omitKeys) > 0 {
		params["omit_keys"] = jsonArray(omitKeys)
	}

	response := c.requests.SendRequest(request.ReadPath, params)
	if !response.Success {
		c.logger.Warning("Remote config could not be fetched")
		return false
	}

	for key, value := range response.Data {
		c.remoteConfig[key] = value
	}
	c.logger.Debug("Remote config updated with ", len(response.Data), " values")
	return true
}

// RemoteConfigValue returns a cached remote config value
func (c *Client) RemoteConfigValue(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	value, ok := c.remoteConfig[key]
	return value, ok
}

// RemoteConfig returns a copy of the remote config cache
func (c *Client) RemoteConfig() map[string]interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	toReturn := make(map[string]interface{}, len(c.remoteConfig))
	for key, value := range c.remoteConfig {
		toReturn[key] = value
	}
	return toReturn
}

func jsonArray(values []string) string {
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
