package domain

import "errors"

// ErrValidation 本地校验失败（不会发出网络请求）
var ErrValidation = errors.New("validation failed")
