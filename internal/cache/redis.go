package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RedisConfig captures the minimal connection parameters required by the lightweight Redis client.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const defaultRedisTimeout = 5 * time.Second
const redisKeyPrefix = "kodix:"

// RedisClient implements the small subset of the Redis protocol the backend
// needs: AUTH, SELECT, GET, SET (PX), DEL, INCR, PEXPIRE, PTTL and SCAN.
// A single connection guarded by a mutex is sufficient for this workload.
type RedisClient struct {
	cfg    RedisConfig
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewRedisClient creates a new Redis client. The connection is established
// eagerly so misconfiguration surfaces during application startup.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	client := &RedisClient{cfg: cfg}
	if err := client.ensureConnection(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// Close closes the underlying network connection.
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// IncrementWithTTL atomically increments the counter stored at key, applying
// the window as TTL on first increment.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := redisKeyPrefix + key

	count, err := c.commandInt(ctx, "INCR", full)
	if err != nil {
		return 0, 0, err
	}

	if count == 1 {
		if _, err := c.commandInt(ctx, "PEXPIRE", full, strconv.FormatInt(window.Milliseconds(), 10)); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	ttlMillis, err := c.commandInt(ctx, "PTTL", full)
	if err != nil {
		return 0, 0, err
	}
	if ttlMillis < 0 {
		return count, window, nil
	}
	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Set stores the value under key with the provided TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := []string{"SET", redisKeyPrefix + key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	_, err := c.command(ctx, args...)
	return err
}

// Get retrieves the value stored at key.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.command(ctx, "GET", redisKeyPrefix+key)
	if err != nil {
		return nil, false, err
	}
	if reply == nil {
		return nil, false, nil
	}
	data, ok := reply.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("redis: unexpected reply type %T for GET", reply)
	}
	return data, true, nil
}

// Delete removes the provided keys.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	args := make([]string, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, key := range keys {
		args = append(args, redisKeyPrefix+key)
	}
	_, err := c.command(ctx, args...)
	return err
}

// DeleteByPrefix removes every key matching prefix using incremental SCAN so a
// large invalidation does not block the server.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return errors.New("redis: prefix is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pattern := redisKeyPrefix + prefix + "*"
	cursor := "0"

	for {
		reply, err := c.command(ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", "100")
		if err != nil {
			return err
		}

		parts, ok := reply.([]any)
		if !ok || len(parts) != 2 {
			return fmt.Errorf("redis: unexpected SCAN reply %T", reply)
		}

		next, ok := parts[0].([]byte)
		if !ok {
			return errors.New("redis: malformed SCAN cursor")
		}

		if keys, ok := parts[1].([]any); ok && len(keys) > 0 {
			args := make([]string, 0, len(keys)+1)
			args = append(args, "DEL")
			for _, raw := range keys {
				if key, ok := raw.([]byte); ok {
					args = append(args, string(key))
				}
			}
			if len(args) > 1 {
				if _, err := c.command(ctx, args...); err != nil {
					return err
				}
			}
		}

		cursor = string(next)
		if cursor == "0" {
			return nil
		}
	}
}

func (c *RedisClient) ensureConnection(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("redis: dial %s: %w", c.cfg.Address, err)
	}

	if c.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(c.cfg.Address)
		if splitErr != nil {
			host = c.cfg.Address
		}
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("redis: tls handshake: %w", err)
		}
		conn = tlsConn
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)

	if c.cfg.Password != "" {
		args := []string{"AUTH"}
		if c.cfg.Username != "" {
			args = append(args, c.cfg.Username)
		}
		args = append(args, c.cfg.Password)
		if _, err := c.roundTrip(ctx, args...); err != nil {
			c.teardown()
			return fmt.Errorf("redis: auth: %w", err)
		}
	}

	if c.cfg.DB > 0 {
		if _, err := c.roundTrip(ctx, "SELECT", strconv.Itoa(c.cfg.DB)); err != nil {
			c.teardown()
			return fmt.Errorf("redis: select db: %w", err)
		}
	}

	return nil
}

func (c *RedisClient) teardown() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

// command runs a single command, reconnecting once on connection loss.
func (c *RedisClient) command(ctx context.Context, args ...string) (any, error) {
	if err := c.ensureConnection(ctx); err != nil {
		return nil, err
	}

	reply, err := c.roundTrip(ctx, args...)
	if err != nil && isConnectionError(err) {
		c.teardown()
		if retryErr := c.ensureConnection(ctx); retryErr != nil {
			return nil, retryErr
		}
		return c.roundTrip(ctx, args...)
	}
	return reply, err
}

func (c *RedisClient) commandInt(ctx context.Context, args ...string) (int64, error) {
	reply, err := c.command(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, ok := reply.(int64)
	if !ok {
		return 0, fmt.Errorf("redis: expected integer reply for %s, got %T", args[0], reply)
	}
	return n, nil
}

func (c *RedisClient) roundTrip(ctx context.Context, args ...string) (any, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(arg), arg)
	}

	if _, err := c.conn.Write([]byte(b.String())); err != nil {
		return nil, err
	}

	return c.readReply()
}

func (c *RedisClient) readReply() (any, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	if line == "" {
		return nil, errors.New("redis: empty reply")
	}

	switch line[0] {
	case '+':
		return line[1:], nil
	case '-':
		return nil, fmt.Errorf("redis: %s", line[1:])
	case ':':
		return strconv.ParseInt(line[1:], 10, 64)
	case '$':
		length, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("redis: malformed bulk length: %w", err)
		}
		if length < 0 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := ioReadFull(c.reader, buf); err != nil {
			return nil, err
		}
		return buf[:length], nil
	case '*':
		count, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("redis: malformed array length: %w", err)
		}
		if count < 0 {
			return nil, nil
		}
		items := make([]any, 0, count)
		for i := 0; i < count; i++ {
			item, err := c.readReply()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("redis: unexpected reply prefix %q", line[0])
	}
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "EOF")
}
