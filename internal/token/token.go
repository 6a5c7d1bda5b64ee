// Package token は署名付きで有効期限を持つアクセストークンの発行と検証を提供する。
//
// トークンはHS256で署名されたJWTで、subjectにユーザーのメールアドレス、
// iatに発行時刻、expに有効期限を持つ。サーバー側には一切保存しない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken はトークン文字列を解釈できない場合のエラー。
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidSignature は署名が署名鍵で検証できない場合のエラー。
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired は検証時刻が有効期限以降の場合のエラー。
	ErrExpired = errors.New("token expired")
)

// signingMethod はトークンの署名方式。
var signingMethod = jwt.SigningMethodHS256

// Claims はトークンから復元されるクレーム。
// 時刻はJWTの精度（秒）に切り捨てられる。
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issue はsubjectを持ち、nowからttlの間有効なトークンを発行する。
func Issue(subject string, now time.Time, ttl time.Duration, key []byte) (string, error) {
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive: %s", ttl)
	}
	if len(key) == 0 {
		return "", errors.New("signing key must not be empty")
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode はトークンを検証し、クレームを返す。
//
// 検証順序:
//  1. 構造とクレームの解釈（失敗時 ErrMalformedToken）
//  2. 有効期限 now >= exp の判定（ErrExpired）
//  3. 署名方式と署名の検証（ErrInvalidSignature）
//
// 期限切れのトークンは署名の正否にかかわらず ErrExpired となる。
func Decode(tokenString string, key []byte, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: required claims are missing", ErrMalformedToken)
	}

	if !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}

	_, err := parser.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return &Claims{
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
