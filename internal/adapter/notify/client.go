// Package notify pushes safe-fail and approval events to an external
// notification relay over JSON-RPC.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// Notification is delivered to the relay, which fans it out to email, chat
// or webhooks.
type Notification struct {
	Type        domain.EventType   `json:"type"`
	ExecutionID string             `json:"execution_id"`
	ApprovalID  string             `json:"approval_id,omitempty"`
	Message     string             `json:"message"`
	Deviations  []domain.Deviation `json:"deviations,omitempty"`
	Ts          int64              `json:"ts"`
}

// Ack is the relay's reply.
type Ack struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient creates a relay client. An empty address disables delivery.
func NewClient(baseURL string) *Client {
	return &Client{
		addr:        resolveRPCAddr(baseURL),
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
	}
}

// Enabled reports whether the client has somewhere to deliver to.
func (c *Client) Enabled() bool {
	return c != nil && c.addr != ""
}

// Notify delivers n to the relay. It is a no-op when the client is disabled.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	if !c.Enabled() {
		return nil
	}

	var ack Ack
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.call(callCtx, "Notifier.Notify", &n, &ack); err != nil {
		return fmt.Errorf("failed to notify relay: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("notification relay returned ok=false (delivered=%v)", ack.Delivered)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
