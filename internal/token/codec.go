package token

import (
	"errors"
	"time"
)

// Issued は発行済みトークンと有効期限を表す。
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Codec はプロセス共通の署名鍵・有効期間・時計を束ねたトークン発行器。
// 起動時に1回生成し、以降は読み取り専用で並行に使用できる。
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCodec はCodecを生成する。
// 鍵はコピーして保持するため、呼び出し側の変更の影響を受けない。
func NewCodec(key []byte, ttl time.Duration) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k, ttl: ttl, now: time.Now}, nil
}

// WithClock は時計を差し替えたCodecを返す。テストで使用する。
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Issue はsubjectに対するトークンを現在時刻で発行する。
func (c *Codec) Issue(subject string) (*Issued, error) {
	now := c.now()
	signed, err := Issue(subject, now, c.ttl, c.key)
	if err != nil {
		return nil, err
	}
	return &Issued{
		Token:     signed,
		ExpiresAt: now.Add(c.ttl).Truncate(time.Second),
	}, nil
}

// Decode はトークンを現在時刻で検証する。
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	return Decode(tokenString, c.key, c.now())
}

// TTL はトークンの有効期間を返す。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}
