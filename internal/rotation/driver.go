package rotation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/credential"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
)

// Driver retries an operation across the credential pool. Each token gets
// at most one attempt per call, so a run never loops longer than the pool
// is wide.
type Driver struct {
	pool     *credential.Pool
	platform gitmeta.Platform
	logger   *zap.Logger
}

// NewDriver builds a Driver for one platform's pool.
func NewDriver(pool *credential.Pool, platform gitmeta.Platform, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{pool: pool, platform: platform, logger: logger}
}

// Do invokes fn with successive tokens until one succeeds. Failures that
// implicate the credential ban it for the cooldown; other failures burn
// the attempt but leave the token in rotation.
func (d *Driver) Do(ctx context.Context, log gitmeta.JobLog, jobID string, fn func(token string) error) error {
	attempts := d.pool.Size()
	if attempts == 0 {
		d.append(ctx, log, jobID, gitmeta.LogError, "No tokens available for requests (all are exhausted).")
		return credential.ErrExhausted
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		token, err := d.pool.Acquire()
		if err != nil {
			d.append(ctx, log, jobID, gitmeta.LogError, "No tokens available for requests (all are exhausted).")
			return err
		}

		err = fn(token)
		if err == nil {
			return nil
		}
		lastErr = err

		if ShouldBan(err) {
			d.pool.Ban(token)
			metrics.ObserveCredentialBan(string(d.platform))
			d.append(ctx, log, jobID, gitmeta.LogWarning,
				fmt.Sprintf("Token banned due to error: %v | Token: %s", err, maskToken(token)))
			continue
		}
		d.append(ctx, log, jobID, gitmeta.LogWarning,
			fmt.Sprintf("Token failed (not banned): %v | Token: %s", err, maskToken(token)))
	}

	d.append(ctx, log, jobID, gitmeta.LogError, fmt.Sprintf("All tokens failed. Last error: %v", lastErr))
	return fmt.Errorf("all tokens failed: %w", lastErr)
}

func (d *Driver) append(ctx context.Context, log gitmeta.JobLog, jobID string, level gitmeta.LogLevel, message string) {
	d.logger.Debug("rotation", zap.String("platform", string(d.platform)), zap.String("message", message))
	if log == nil {
		return
	}
	log.Append(ctx, jobID, level, message)
}
