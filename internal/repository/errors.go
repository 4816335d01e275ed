package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrAccessDenied 写入被行级安全策略拒绝
// 再试也会一直失败，调用方应转入纯本地模式并提示用户。
var ErrAccessDenied = errors.New("write rejected by row-level security policy")

// insufficientPrivilege PostgreSQL 权限不足错误码
const insufficientPrivilege = "42501"

// isAccessDenied 判断是否为权限类错误
func isAccessDenied(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == insufficientPrivilege
	}
	return false
}
