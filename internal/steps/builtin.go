package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Builtin steps are inert. Real browser, file and mail actions belong to the
// external executor.
func init() {
	MustRegister("noop", func(ctx context.Context, args map[string]interface{}) error {
		return nil
	})
	MustRegister("log", func(ctx context.Context, args map[string]interface{}) error {
		msg, _ := args["message"].(string)
		slog.InfoContext(ctx, "plan step", "message", msg)
		return nil
	})
	MustRegister("sleep", func(ctx context.Context, args map[string]interface{}) error {
		d, err := durationArg(args, "duration_ms")
		if err != nil {
			return err
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
	MustRegister("fail", func(ctx context.Context, args map[string]interface{}) error {
		msg, _ := args["message"].(string)
		if msg == "" {
			msg = "step failed"
		}
		return errors.New(msg)
	})
}

func durationArg(args map[string]interface{}, key string) (time.Duration, error) {
	switch v := args[key].(type) {
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v) * time.Millisecond, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}
