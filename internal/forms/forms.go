// Package forms はログイン・登録フォームの入力型と検証を提供します。
package forms

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LoginInput はログインフォームの入力です。
type LoginInput struct {
	Username   string `form:"username" validate:"required"`
	Password   string `form:"password" validate:"required"`
	RememberMe bool   `form:"remember_me"`
}

// RegistrationInput は登録フォームの入力です。
type RegistrationInput struct {
	Username  string `form:"username" validate:"required,max=64"`
	Email     string `form:"email" validate:"required,email,max=120"`
	Password  string `form:"password" validate:"required"`
	Password2 string `form:"password2" validate:"required,eqfield=Password"`
}

// FieldErrors はフォームのフィールド名ごとのエラーメッセージです。
type FieldErrors map[string][]string

// Add はフィールドにメッセージを追加します。
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Has はフィールドにエラーがあるかを返します。
func (fe FieldErrors) Has(field string) bool {
	return len(fe[field]) > 0
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーのフィールド名は form タグの名前にそろえる
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateLogin はログイン入力を検証します。問題がなければ nil を返します。
func ValidateLogin(in LoginInput) FieldErrors {
	return check(in)
}

// ValidateRegistration は登録入力を検証します。問題がなければ nil を返します。
// ユーザー名とメールアドレスの一意性はストアへの追加時に判定されます。
func ValidateRegistration(in RegistrationInput) FieldErrors {
	return check(in)
}

func check(in any) FieldErrors {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"": {err.Error()}}
	}

	fe := FieldErrors{}
	for _, e := range verrs {
		fe.Add(e.Field(), message(e))
	}
	return fe
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Invalid email address."
	case "max":
		return fmt.Sprintf("Field cannot be longer than %s characters.", e.Param())
	case "eqfield":
		return "Field must be equal to " + strings.ToLower(e.Param()) + "."
	default:
		return "Invalid value."
	}
}
