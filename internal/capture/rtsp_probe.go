package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

// probeRTSP checks that an RTSP source answers a DESCRIBE before the
// capture loop starts hammering it with ffmpeg reads.
func probeRTSP(ctx context.Context, rawURL string) error {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("invalid rtsp url: %w", err)
	}

	client := &gortsplib.Client{}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			client.ReadTimeout = remaining
			client.WriteTimeout = remaining
		}
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("rtsp connect failed: %w", err)
	}
	defer client.Close()

	if _, _, err := client.Describe(u); err != nil {
		return fmt.Errorf("rtsp describe failed: %w", err)
	}

	return nil
}
