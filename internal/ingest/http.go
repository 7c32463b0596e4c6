package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/AngelCh415/leadscore/internal/utils"
)

// GetJSONWithRetry tries up to three times with exponential backoff and
// jitter. 4xx responses other than 408/429 are not retried.
func GetJSONWithRetry(ctx context.Context, c HTTPClient, url string, dst any) error {
	b := utils.NewBackoff(100*time.Millisecond, 2)
	return b.Do(ctx, func(int) error {
		return retryable(getJSON(ctx, c, url, dst))
	})
}

func retryable(err error) error {
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return utils.Permanent{Err: err}
	}
	return err
}
