package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// 所有 key 统一加前缀，和同一目录下的其他数据隔离
const keyPrefix = "tradedesk/"

var (
	ErrNotOpened = errors.New("secretstore: not opened")
	ErrEmptyKey  = errors.New("secretstore: key is empty")
)

// Store 基于 Badger 的小型 KV，用于跨进程保存会话凭证。
// 加密由 Badger 的 EncryptionKey 选项提供。
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte        // 32 字节；为空则不加密
	TTL           time.Duration // 写入的值多久后过期，0 表示不过期
	InMemory      bool          // 测试用，忽略 Path
}

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 Badger 要求开启 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %q", path)
	}
	return &Store{db: db, ttl: opts.TTL}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) key(key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpened
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	return []byte(keyPrefix + key), nil
}

// GetString 返回 (value, found, error)，过期的值视为不存在
func (s *Store) GetString(key string) (string, bool, error) {
	k, err := s.key(key)
	if err != nil {
		return "", false, err
	}
	var (
		out   string
		found bool
	)
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return out, found, nil
}

// SetString 写入值，配置了 TTL 时带过期时间
func (s *Store) SetString(key, val string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	e := badger.NewEntry(k, []byte(val))
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(e)
	}), "set %s", key)
}

// Delete 删除 key，不存在也不报错
func (s *Store) Delete(key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	}), "delete %s", key)
}

// ParseKey 解析 32 字节的 hex（可带 0x）或 base64 密钥，空串返回 nil
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		if b, err = base64.StdEncoding.DecodeString(raw); err != nil {
			return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
		}
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	return b, nil
}
