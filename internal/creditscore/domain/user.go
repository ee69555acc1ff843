// 包 domain 信用分账本服务的领域模型
package domain

import "time"

// User 用户实体
// 信用分只由账本修改，active/eligible 标志只由账户生命周期同步修改
type User struct {
	// 内部 ID (业务主键)
	ID string
	// 对外 ID
	UID string
	// 当前信用分，允许为负
	CreditScore int64
	// 是否可作为风控审核人
	EligibleReviewer bool
	// 是否处于登录状态 (未登出)
	Active bool
	// 乐观锁版本号
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser 创建用户，baseline 为注册时的初始分
func NewUser(id, uid string, baseline int64, eligibleReviewer bool) *User {
	return &User{
		ID:               id,
		UID:              uid,
		CreditScore:      baseline,
		EligibleReviewer: eligibleReviewer,
		Active:           true,
	}
}

// Apply 计算变更后的分数，不修改实体
func (u *User) Apply(kind ChangeKind, delta int64) int64 {
	if kind == ChangeKindDebit {
		return u.CreditScore - delta
	}
	return u.CreditScore + delta
}
