package api

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	otpCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
	// 國碼可省略，數字之間允許空白與連字號
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,18}[0-9]$`)

	registerOnce sync.Once
	registerErr  error
)

// registerValidators 在 gin 的 binding engine 上註冊自訂的驗證 tag
func registerValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("unexpected validator engine")
			return
		}
		if err := v.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
			return otpCodePattern.MatchString(fl.Field().String())
		}); err != nil {
			registerErr = fmt.Errorf("fail to register otpcode, err=%w", err)
			return
		}
		if err := v.RegisterValidation("e164ish", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		}); err != nil {
			registerErr = fmt.Errorf("fail to register e164ish, err=%w", err)
		}
	})
	return registerErr
}

// normalizePhone 移除空白與連字號
func normalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(phone)
}

// bindingMessage 把 validator 的錯誤整理成欄位清單
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "malformed request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
