package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"seolens/internal/config"
	"seolens/pkg/types"
)

const (
	defaultRedisKey     = "seolens:cache"
	defaultRedisTimeout = 5 * time.Second
)

// RedisStore keeps all cache entries in one Redis hash, field per query key,
// using a minimal RESP client.
type RedisStore struct {
	addr     string
	password string
	db       int
	key      string
	timeout  time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// NewRedisStore creates a cache backed by Redis.
func NewRedisStore(cfg config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}
	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = defaultRedisTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		addr:     net.JoinHostPort(cfg.Host, port),
		password: cfg.Password,
		db:       cfg.DB,
		key:      key,
		timeout:  timeout,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, query string) (types.Insights, bool) {
	var entry Entry
	var found bool
	err := s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HGET", s.key, Key(query)); err != nil {
			return err
		}
		reply, err := conn.read()
		if err != nil {
			return err
		}
		switch v := reply.(type) {
		case nil:
			found = false
		case string:
			if err := json.Unmarshal([]byte(v), &entry); err != nil {
				return err
			}
			found = true
		default:
			return fmt.Errorf("unexpected response type %T", v)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("redis cache read treated as miss", "error", err)
		return types.Insights{}, false
	}
	if !found || s.expired(entry) {
		return types.Insights{}, false
	}
	return entry.Data, true
}

func (s *RedisStore) Set(ctx context.Context, query string, data types.Insights) error {
	entry := Entry{Query: query, Timestamp: s.now().UTC(), Data: data}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HSET", s.key, Key(query), string(raw)); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

func (s *RedisStore) Invalidate(ctx context.Context, query string) error {
	return s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HDEL", s.key, Key(query)); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

func (s *RedisStore) InvalidateAll(ctx context.Context) error {
	return s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("DEL", s.key); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

func (s *RedisStore) CleanExpired(ctx context.Context) (int, error) {
	cleaned := 0
	err := s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HGETALL", s.key); err != nil {
			return err
		}
		reply, err := conn.read()
		if err != nil {
			return err
		}
		arr, ok := reply.([]interface{})
		if !ok {
			return nil
		}
		for i := 0; i+1 < len(arr); i += 2 {
			field, ok := arr[i].(string)
			if !ok {
				continue
			}
			value, ok := arr[i+1].(string)
			stale := !ok
			if ok {
				var entry Entry
				stale = json.Unmarshal([]byte(value), &entry) != nil || s.expired(entry)
			}
			if !stale {
				continue
			}
			if err := conn.send("HDEL", s.key, field); err != nil {
				return err
			}
			if _, err := conn.read(); err != nil {
				return err
			}
			cleaned++
		}
		return nil
	})
	if cleaned > 0 {
		s.logger.Info("cleaned expired cache entries", "count", cleaned)
	}
	return cleaned, err
}

func (s *RedisStore) expired(entry Entry) bool {
	return s.now().Sub(entry.Timestamp) > s.ttl
}

func (s *RedisStore) withConn(ctx context.Context, fn func(*redisConn) error) error {
	conn, err := newRedisConn(ctx, s.addr, s.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.initialize(s.password, s.db); err != nil {
		return err
	}
	return fn(conn)
}

type redisConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func newRedisConn(ctx context.Context, addr string, timeout time.Duration) (*redisConn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &redisConn{
		conn:   c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
	}, nil
}

func (c *redisConn) initialize(password string, db int) error {
	if password != "" {
		if err := c.send("AUTH", password); err != nil {
			return err
		}
		if _, err := c.read(); err != nil {
			return err
		}
	}
	if db != 0 {
		if err := c.send("SELECT", strconv.Itoa(db)); err != nil {
			return err
		}
		if _, err := c.read(); err != nil {
			return err
		}
	}
	return nil
}

func (c *redisConn) send(cmd string, args ...string) error {
	if _, err := fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1); err != nil {
		return err
	}
	if err := writeBulk(c.writer, strings.ToUpper(cmd)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := writeBulk(c.writer, arg); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func writeBulk(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return nil
}

func (c *redisConn) read() (interface{}, error) {
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		return line, nil
	case '-':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(line)
	case ':':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		val, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		return val, nil
	case '$':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		length, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if length == -1 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return nil, err
		}
		return string(buf[:length]), nil
	case '*':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if count == -1 {
			return nil, nil
		}
		items := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			item, err := c.read()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected redis prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func (c *redisConn) Close() error {
	return c.conn.Close()
}
