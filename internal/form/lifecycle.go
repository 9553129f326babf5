package form

import (
	"strings"
	"time"
)

// Action 生命周期动作
type Action string

const (
	ActionSubmit               Action = "submit"
	ActionSupervisorApprove    Action = "review.approve"
	ActionSupervisorEscalate   Action = "review.escalate"
	ActionSupervisorDisapprove Action = "review.disapprove"
	ActionAdminApprove         Action = "admin.approve"
	ActionAdminReject          Action = "admin.reject"
	ActionAdminDisapprove      Action = "admin.disapprove"
)

// Scope 动作的归属范围检查
type Scope int

const (
	// ScopeAny 不做范围限制
	ScopeAny Scope = iota
	// ScopeOwner 仅记录所有者
	ScopeOwner
	// ScopeDepartment 仅同部门
	ScopeDepartment
)

// Transition 状态机的一条边
type Transition struct {
	From   Status
	Action Action
	Role   Role
	Scope  Scope
	To     Status
	Audit  AuditAction
	// SetReviewedBy/SetApprovedBy 流转时写入对应的操作者字段
	SetReviewedBy bool
	SetApprovedBy bool
	Details       string
}

type edgeKey struct {
	from   Status
	action Action
	role   Role
}

// Table 流转表,按 (当前状态, 动作, 角色) 索引
type Table struct {
	edges       map[edgeKey]Transition
	actionRoles map[Action]map[Role]Scope
	ordered     []Transition
}

// NewTable 根据边列表构建流转表
func NewTable(transitions []Transition) *Table {
	t := &Table{
		edges:       make(map[edgeKey]Transition, len(transitions)),
		actionRoles: make(map[Action]map[Role]Scope),
		ordered:     append([]Transition(nil), transitions...),
	}
	for _, tr := range transitions {
		t.edges[edgeKey{from: tr.From, action: tr.Action, role: tr.Role}] = tr
		if t.actionRoles[tr.Action] == nil {
			t.actionRoles[tr.Action] = make(map[Role]Scope)
		}
		t.actionRoles[tr.Action][tr.Role] = tr.Scope
	}
	return t
}

// DefaultTransitions 表单审批的默认流转
var DefaultTransitions = []Transition{
	{From: StatusDraft, Action: ActionSubmit, Role: RoleOperator, Scope: ScopeOwner, To: StatusSubmitted, Audit: AuditSubmitted, Details: "Form submitted for review"},

	{From: StatusSubmitted, Action: ActionSupervisorApprove, Role: RoleSupervisor, Scope: ScopeDepartment, To: StatusApproved, Audit: AuditApproved, SetApprovedBy: true, Details: "Form approved by supervisor"},
	{From: StatusSubmitted, Action: ActionSupervisorEscalate, Role: RoleSupervisor, Scope: ScopeDepartment, To: StatusReviewed, Audit: AuditEscalated, SetReviewedBy: true, Details: "Form escalated to admin"},
	{From: StatusSubmitted, Action: ActionSupervisorDisapprove, Role: RoleSupervisor, Scope: ScopeDepartment, To: StatusDisapproved, Audit: AuditDisapproved, Details: "Form disapproved by supervisor"},

	{From: StatusSubmitted, Action: ActionAdminApprove, Role: RoleAdmin, Scope: ScopeAny, To: StatusApproved, Audit: AuditApproved, SetApprovedBy: true, Details: "Form approved by admin"},
	{From: StatusReviewed, Action: ActionAdminApprove, Role: RoleAdmin, Scope: ScopeAny, To: StatusApproved, Audit: AuditApproved, SetApprovedBy: true, Details: "Form approved by admin"},
	{From: StatusSubmitted, Action: ActionAdminReject, Role: RoleAdmin, Scope: ScopeAny, To: StatusRejected, Audit: AuditRejected, Details: "Form rejected by admin"},
	{From: StatusReviewed, Action: ActionAdminReject, Role: RoleAdmin, Scope: ScopeAny, To: StatusRejected, Audit: AuditRejected, Details: "Form rejected by admin"},
	{From: StatusSubmitted, Action: ActionAdminDisapprove, Role: RoleAdmin, Scope: ScopeAny, To: StatusDisapproved, Audit: AuditDisapproved, Details: "Form disapproved by admin"},
	{From: StatusReviewed, Action: ActionAdminDisapprove, Role: RoleAdmin, Scope: ScopeAny, To: StatusDisapproved, Audit: AuditDisapproved, Details: "Form disapproved by admin"},
}

var defaultTable = NewTable(DefaultTransitions)

// DefaultTable 返回默认流转表
func DefaultTable() *Table {
	return defaultTable
}

// Transitions 返回全部边
func (t *Table) Transitions() []Transition {
	return append([]Transition(nil), t.ordered...)
}

// Known 判断动作是否存在于流转表中
func (t *Table) Known(action Action) bool {
	_, ok := t.actionRoles[action]
	return ok
}

// Sources 返回动作的全部合法源状态
func (t *Table) Sources(action Action, role Role) []Status {
	var out []Status
	for _, tr := range t.ordered {
		if tr.Action == action && tr.Role == role {
			out = append(out, tr.From)
		}
	}
	return out
}

// Decide 计算一次流转的结果
// 校验顺序: 记录存在 -> 角色 -> 归属范围 -> 当前状态。返回新的记录副本,原记录不变。
func (t *Table) Decide(rec *Record, p Principal, action Action, comment string, now time.Time) (*Record, Transition, error) {
	if !t.Known(action) {
		return nil, Transition{}, Invalid("unknown action %q", action)
	}
	if rec == nil {
		return nil, Transition{}, ErrNotFound
	}

	scope, ok := t.actionRoles[action][p.Role]
	if !ok {
		return nil, Transition{}, Forbidden("role %q may not perform %q", p.Role, action)
	}

	if !inScope(scope, rec, p) {
		return nil, Transition{}, NotFound("form %s not found", rec.ID)
	}

	tr, ok := t.edges[edgeKey{from: rec.Status, action: action, role: p.Role}]
	if !ok {
		return nil, Transition{}, Conflict("form not in a reviewable state: %s", rec.Status)
	}

	next := rec.Clone()
	next.Status = tr.To
	if tr.SetReviewedBy {
		next.ReviewedBy = p.ID
	}
	if tr.SetApprovedBy {
		next.ApprovedBy = p.ID
	}
	if msg := strings.TrimSpace(comment); msg != "" {
		next.Comments = append(next.Comments, Comment{Author: p.ID, Message: msg, Timestamp: now})
	}
	next.AuditLog = append(next.AuditLog, AuditEntry{
		Action:      tr.Audit,
		PerformedBy: p.ID,
		Timestamp:   now,
		Details:     tr.Details,
	})
	next.UpdatedAt = now

	return next, tr, nil
}

func inScope(scope Scope, rec *Record, p Principal) bool {
	switch scope {
	case ScopeOwner:
		return rec.SubmittedBy == p.ID
	case ScopeDepartment:
		return rec.Department == p.Department
	default:
		return true
	}
}

// SupervisorAction 将主管的决定映射为动作
func SupervisorAction(decision string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve":
		return ActionSupervisorApprove, nil
	case "escalate":
		return ActionSupervisorEscalate, nil
	case "disapprove":
		return ActionSupervisorDisapprove, nil
	case "":
		return "", Invalid("action is required")
	}
	return "", Invalid("unsupported review action %q", decision)
}

// AdminAction 将管理员的决定映射为动作
func AdminAction(decision string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve":
		return ActionAdminApprove, nil
	case "reject":
		return ActionAdminReject, nil
	case "disapprove":
		return ActionAdminDisapprove, nil
	case "":
		return "", Invalid("action is required")
	}
	return "", Invalid("unsupported admin action %q", decision)
}
