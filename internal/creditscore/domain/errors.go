package domain

import "errors"

var (
	// ErrUserNotFound 用户不存在或已登出
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientReviewers 可选审核人数量不足以组成委员会
	ErrInsufficientReviewers = errors.New("insufficient eligible reviewers")
	// ErrInvalidArgument 请求参数非法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConcurrentUpdate 乐观锁冲突
	ErrConcurrentUpdate = errors.New("optimistic lock failed: user modified by another transaction")
	// ErrDuplicateChange 相同幂等键的变更已存在
	ErrDuplicateChange = errors.New("duplicate score change")
	// ErrInsufficientScore 开启下限校验时扣分会导致负分
	ErrInsufficientScore = errors.New("insufficient credit score")
	// ErrStorageFailure 存储层失败
	ErrStorageFailure = errors.New("storage failure")
)
