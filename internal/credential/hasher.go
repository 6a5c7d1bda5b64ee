// Package credential はパスワードのハッシュ化と照合を提供する。
package credential

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher はbcryptによるパスワードハッシュ化を行う。
// 同じパスワードでもソルトにより毎回異なるハッシュになる。
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher は指定コストのHasherを生成する。
// bcryptの許容範囲外のコストは最も近い境界値に丸める。
// 未登録ユーザーのログイン時に照合する同コストのダミーハッシュを生成時に1回だけ作成する。
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("smarbl-dummy-credential"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dummy hash: %w", err)
	}

	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Hash はパスワードのハッシュを返す。
func (h *Hasher) Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
// 比較はbcryptの定数時間比較に委ねる。
func (h *Hasher) Verify(secret, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret))
	return err == nil
}

// VerifyDummy はダミーハッシュに対して照合を行い、常にfalseを返す。
// 存在しないユーザーへのログインでも実在ユーザーと同程度の時間を消費させる。
func (h *Hasher) VerifyDummy(secret string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(secret))
	return false
}

// Cost はハッシュ化コストを返す。
func (h *Hasher) Cost() int {
	return h.cost
}
