package agentapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"optimus-console-go/internal/types"
)

type textReply struct {
	Text *string `json:"text"`
}

type observationReply struct {
	Observation *string `json:"observation"`
}

type commandRequest struct {
	Text string `json:"text"`
	Task string `json:"task"`
}

type commandReply struct {
	Response *string `json:"response"`
}

type resetRequest struct {
	Device string `json:"device"`
}

// NoResponse is what the console shows when the server answers a command
// without a response field.
const NoResponse = "No response."

// CheckStatus is the advisory health check. A reachable server that answers
// with anything but 200 reports false without an error.
func (c *Client) CheckStatus(ctx context.Context) (bool, error) {
	err := c.do(ctx, c.status, "status", http.MethodGet, "/status", nil, nil)
	if err == nil {
		c.logger.Info("server is running", zap.String("url", c.BaseURL()))
		return true, nil
	}
	if types.IsKind(err, types.KindProtocol) {
		c.logger.Warn("server is not running", zap.Error(err))
		return false, nil
	}
	c.logger.Warn("error connecting to server", zap.Error(err))
	return false, err
}

// InitialText returns the greeting, or "" when the server has none.
func (c *Client) InitialText(ctx context.Context) (string, error) {
	var reply textReply
	if err := c.do(ctx, c.http, "initial text", http.MethodGet, "/initial_text", nil, &reply); err != nil {
		return "", err
	}
	if reply.Text == nil {
		return "", nil
	}
	return *reply.Text, nil
}

// Observation fetches the current observation as an encoded frame. An empty
// string means the server had nothing to show yet.
func (c *Client) Observation(ctx context.Context) (string, error) {
	var reply observationReply
	if err := c.do(ctx, c.http, "get observation", http.MethodGet, "/get_obs", nil, &reply); err != nil {
		return "", err
	}
	if reply.Observation == nil {
		return "", nil
	}
	return *reply.Observation, nil
}

func (c *Client) SendCommand(ctx context.Context, text string, task types.Task) (string, error) {
	c.logger.Debug("sending command", zap.String("task", string(task)), zap.String("text", text))
	var reply commandReply
	req := commandRequest{Text: text, Task: string(task)}
	if err := c.do(ctx, c.http, "send command", http.MethodPost, "/send_text", req, &reply); err != nil {
		return "", err
	}
	if reply.Response == nil {
		return NoResponse, nil
	}
	return *reply.Response, nil
}

func (c *Client) Pause(ctx context.Context) error {
	c.logger.Info("pausing agent")
	return c.do(ctx, c.http, "pause", http.MethodPost, "/pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context) error {
	c.logger.Info("resuming agent")
	return c.do(ctx, c.http, "resume", http.MethodPost, "/resume", nil, nil)
}

// Reset restarts the environment on the configured device and returns the
// first observation, or "" if the server sent none.
func (c *Client) Reset(ctx context.Context) (string, error) {
	c.logger.Info("resetting server", zap.String("device", c.device))
	var reply observationReply
	if err := c.do(ctx, c.http, "reset", http.MethodPost, "/reset", resetRequest{Device: c.device}, &reply); err != nil {
		return "", err
	}
	if reply.Observation == nil {
		return "", nil
	}
	return *reply.Observation, nil
}

// ReceiveText polls the agent's current status text.
func (c *Client) ReceiveText(ctx context.Context) (string, error) {
	var reply textReply
	if err := c.do(ctx, c.http, "receive text", http.MethodGet, "/receive_text", nil, &reply); err != nil {
		return "", err
	}
	if reply.Text == nil {
		return "", nil
	}
	return *reply.Text, nil
}

// GPU returns the server's free-form GPU diagnostics.
func (c *Client) GPU(ctx context.Context) (map[string]any, error) {
	info := map[string]any{}
	if err := c.do(ctx, c.http, "gpu", http.MethodGet, "/gpu", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}
