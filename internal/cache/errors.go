package cache

import "errors"

// ErrDatastore 是本包所有领域错误的基类，调用方可用 errors.Is(err, ErrDatastore) 统一判断。
var ErrDatastore = errors.New("datastore error")

var (
	// ErrDoesNotExist 表示远端没有该对象。
	ErrDoesNotExist = wrapDatastore("does not exist")
	// ErrAlreadyExists 为保持错误分类完整而保留，当前没有代码路径会返回它。
	ErrAlreadyExists = wrapDatastore("already exists")
	// ErrAccessDenied 同上，权限错误目前由 fetch 层原样透传。
	ErrAccessDenied = wrapDatastore("access denied")
	// ErrUnsafeArchive 表示目录归档中含有指向解压目录之外的条目。
	ErrUnsafeArchive = wrapDatastore("unsafe archive entry")
)

type datastoreError struct {
	msg string
}

func wrapDatastore(msg string) error {
	return &datastoreError{msg: msg}
}

func (e *datastoreError) Error() string { return "datastore: " + e.msg }

func (e *datastoreError) Unwrap() error { return ErrDatastore }
