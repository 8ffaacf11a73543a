package client

import "github.com/countly/countly-go-sdk/countly/service/dtos"

// SetUserDetails queues a user_details request with the predefined profile fields
func (c *Client) SetUserDetails(details dtos.UserDetails) error {
	if err := c.validator.ValidateUserDetails(details); err != nil {
		c.logger.Error(err.Error())
		return err
	}
	c.requests.AddRequestToQueue(map[string]string{"user_details": details.JSON()})
	return nil
}

// SetCustomUserDetails queues a user_details request with custom profile properties only
func (c *Client) SetCustomUserDetails(custom map[string]string) error {
	return c.SetUserDetails(dtos.UserDetails{Custom: custom})
}
