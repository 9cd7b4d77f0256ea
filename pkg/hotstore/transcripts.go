package hotstore

import (
	"context"
	"fmt"
	"time"
)

// transcriptTTL is the retention window for a voice session's
// transcript list, per the hot-store layout.
const transcriptTTL = 3600 * time.Second

func transcriptKey(session string) string {
	return fmt.Sprintf("voice:%s:transcripts", session)
}

// AppendTranscript pushes a transcript entry onto the session's list
// and (re)sets its TTL, so the list expires 3600s after the most
// recent entry.
func (c *Client) AppendTranscript(ctx context.Context, session, entry string) error {
	key := transcriptKey(session)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, entry)
	pipe.Expire(ctx, key, transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// ListTranscripts returns all entries currently retained for a
// session, oldest first.
func (c *Client) ListTranscripts(ctx context.Context, session string) ([]string, error) {
	entries, err := c.rdb.LRange(ctx, transcriptKey(session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	return entries, nil
}
