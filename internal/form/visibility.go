package form

// Visible 判断调用者能否看到记录
//
//	operator:   自己提交的表单
//	supervisor: 本部门且处于 submitted 的表单,或由自己升级过的表单
//	admin:      全部
func Visible(p Principal, rec *Record) bool {
	if rec == nil {
		return false
	}
	switch p.Role {
	case RoleOperator:
		return rec.SubmittedBy == p.ID
	case RoleSupervisor:
		if rec.Department == p.Department && rec.Status == StatusSubmitted {
			return true
		}
		return rec.ReviewedBy != "" && rec.ReviewedBy == p.ID
	case RoleAdmin:
		return true
	}
	return false
}

// VisibleSet 过滤出调用者可见的记录,保持原有顺序
func VisibleSet(p Principal, records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if Visible(p, rec) {
			out = append(out, rec)
		}
	}
	return out
}
