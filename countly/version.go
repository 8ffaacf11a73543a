// Package countly holds identifiers shared by every package of the SDK.
package countly

// Version is the SDK version reported to the collector
const Version = "1.3.0"

// SDKName is the SDK identifier reported to the collector
const SDKName = "countly-sdk-go"
