package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher はbcryptでパスワードをハッシュ化する。
type BcryptHasher struct {
	cost int

	// dummyHash は未登録メールアドレスでのログイン時の比較対象。
	// 登録有無で応答時間に差が出ないよう、同じコストで初回に生成する。
	dummyOnce sync.Once
	dummyHash []byte
}

// NewBcryptHasher はBcryptHasherを生成する。範囲外のコストはbcrypt.DefaultCostになる。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードのハッシュを返す。
func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Compare はパスワードがハッシュと一致するかを返す。
// 不一致はエラーではなくfalseで返し、ハッシュ形式の不正のみエラーにする。
func (h *BcryptHasher) Compare(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// CompareDummy は比較結果を捨てる比較を1回行う。
func (h *BcryptHasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}
