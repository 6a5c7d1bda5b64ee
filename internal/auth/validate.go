package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MaxPasswordBytes はパスワード長の上限。bcryptはこれを超えるバイトを無視する。
const MaxPasswordBytes = 72

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Validate は登録入力の形式を検証する。
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(1, MaxPasswordBytes)),
	)
}

// normalized は前後の空白を除き、メールアドレスを小文字にした入力を返す。
func (in RegisterInput) normalized() RegisterInput {
	return RegisterInput{
		Name:     strings.TrimSpace(in.Name),
		Email:    NormalizeEmail(in.Email),
		Password: in.Password,
	}
}

// NormalizeEmail はメールアドレスを照合用の形に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
