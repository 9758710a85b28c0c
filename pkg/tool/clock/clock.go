package clock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const timeLayout = "2006-01-02 15:04:05"

type clock struct {
	now func() time.Time
}

type Option func(*clock)

// WithNow replaces the time source
func WithNow(now func() time.Time) Option {
	return func(c *clock) {
		c.now = now
	}
}

// New creates a get_current_time tool
func New(opts ...Option) *clock {
	c := &clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (x *clock) Flags() []cli.Flag {
	return nil
}

func (x *clock) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return true, nil
}

func (x *clock) Prompt(ctx context.Context) string {
	return ""
}

func (x *clock) Specs() []*model.ToolSpec {
	return []*model.ToolSpec{
		{
			Name:        "get_current_time",
			Description: "Get the current date and time.",
		},
	}
}

func (x *clock) Execute(ctx context.Context, call *model.ToolCall) (string, error) {
	out, err := json.Marshal(map[string]string{
		"current_time": x.now().Local().Format(timeLayout),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal current time")
	}
	return string(out), nil
}
