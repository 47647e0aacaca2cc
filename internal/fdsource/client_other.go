//go:build !linux

package fdsource

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("fdsource: descriptor passing requires linux")

// Client is unavailable on this platform.
type Client struct{ name string }

func NewClient(socketPath, identifier string) (*Client, error) { return nil, errUnsupported }

func (c *Client) Name() string { return c.name }

func (c *Client) GetFd(context.Context, int, FdType) (int, error) { return -1, errUnsupported }
