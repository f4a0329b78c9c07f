package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is the subject agents listen on for scrape requests.
const DefaultSubject = "scraper.requests"

const (
	agentQueueGroup       = "scraper-agents"
	defaultRequestTimeout = time.Minute
)

// Connect dials NATS with unlimited reconnects.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Agent answers scrape requests arriving on a subject. Agents sharing a subject
// form a queue group, so each request is served once.
type Agent struct {
	nc      *nats.Conn
	subject string
	handler *Handler
	logger  *zap.Logger
}

func NewAgent(nc *nats.Conn, subject string, handler *Handler, logger *zap.Logger) *Agent {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{nc: nc, subject: subject, handler: handler, logger: logger}
}

// Serve subscribes and blocks until ctx is done, then drains the subscription.
func (a *Agent) Serve(ctx context.Context) error {
	sub, err := a.nc.QueueSubscribe(a.subject, agentQueueGroup, func(msg *nats.Msg) {
		reply := a.handler.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			a.logger.Warn("Failed to reply to scrape request", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", a.subject, err)
	}
	a.logger.Info("Scrape agent listening", zap.String("subject", a.subject))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", a.subject, err)
	}
	return nil
}

// Client sends scrape requests to agents.
type Client struct {
	nc      *nats.Conn
	subject string
}

func NewClient(nc *nats.Conn, subject string) *Client {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Client{nc: nc, subject: subject}
}

// Scrape sends req and waits for the agent's answer. An error reported by the
// agent is returned as an error.
func (c *Client) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	req.Type = TypeScrapeRequest
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode scrape request: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	var res ScrapeResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return nil, fmt.Errorf("decode scrape result: %w", err)
	}
	if res.Error != "" {
		return &res, fmt.Errorf("agent: %s", res.Error)
	}
	return &res, nil
}
