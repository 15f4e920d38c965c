package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// otpMin と otpSpan はOTPの範囲 [1000, 9999) を表す。
const (
	otpMin  = 1000
	otpSpan = 8999
)

// GenerateVerificationToken は暗号的に安全な32バイトの確認トークンを16進文字列で返す。
func GenerateVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateOTP は4桁のOTPを返す。
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%d", otpMin+n.Int64()), nil
}
