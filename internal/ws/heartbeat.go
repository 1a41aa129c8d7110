package ws

import (
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// heartbeat pings the server every Interval and closes the connection when
// nothing has been read for Interval + Timeout, which unblocks the read loop
// and triggers a reconnect. It returns when done is closed.
func (c *Client) heartbeat(conn *connection, done <-chan struct{}) {
	if c.config.Heartbeat.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.Heartbeat.Interval)
	defer ticker.Stop()

	deadline := c.config.Heartbeat.Interval + c.config.Heartbeat.Timeout
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if idle := conn.idle(now); idle > deadline {
				c.log.Warn().Dur("idle", idle.Round(time.Second)).Msg("Heartbeat timeout, dropping connection")
				conn.Close()
				return
			}
			if err := conn.WritePing(); err != nil {
				c.log.Warn().Err(err).Msg("Heartbeat ping failed")
				conn.Close()
				return
			}
		}
	}
}
