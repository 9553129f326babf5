package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/mautops/formflow-gin/internal/blob"
	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/database"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/repository"
	"github.com/mautops/formflow-gin/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	opA   = form.Principal{ID: "op-a", Role: form.RoleOperator, Department: "IT"}
	opB   = form.Principal{ID: "op-b", Role: form.RoleOperator, Department: "IT"}
	supIT = form.Principal{ID: "sup-it", Role: form.RoleSupervisor, Department: "IT"}
	supHR = form.Principal{ID: "sup-hr", Role: form.RoleSupervisor, Department: "HR"}
	admin = form.Principal{ID: "admin", Role: form.RoleAdmin}
)

// recordingStore 记录删除调用,可注入写入/探测/删除失败
type recordingStore struct {
	*blob.MemoryStore

	mu           sync.Mutex
	puts         int
	deletes      []string
	failPutAfter int
	failHead     bool
	// failDeleteAt 第 n 次删除失败,0 表示不失败
	failDeleteAt int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: blob.NewMemory(), failPutAfter: -1}
}

func (s *recordingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	s.mu.Lock()
	s.puts++
	fail := s.failPutAfter >= 0 && s.puts > s.failPutAfter
	s.mu.Unlock()
	if fail {
		return blob.Info{}, errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, key, r, opts)
}

func (s *recordingStore) Head(ctx context.Context, key string) (blob.Info, error) {
	s.mu.Lock()
	fail := s.failHead
	s.mu.Unlock()
	if fail {
		return blob.Info{}, errors.New("storage offline")
	}
	return s.MemoryStore.Head(ctx, key)
}

func (s *recordingStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	s.deletes = append(s.deletes, key)
	fail := s.failDeleteAt > 0 && len(s.deletes) == s.failDeleteAt
	s.mu.Unlock()
	if fail {
		return false, errors.New("io error")
	}
	return s.MemoryStore.Delete(ctx, key)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []form.Action
}

func (n *recordingNotifier) NotifyTransition(rec *form.Record, action form.Action, actor string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, action)
}

type testEnv struct {
	db       *gorm.DB
	svc      service.FormService
	repo     repository.FormRepository
	store    *recordingStore
	notifier *recordingNotifier
	audits   repository.AuditLogRepository
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	env := &testEnv{
		db:       db,
		repo:     repository.NewFormRepository(db),
		store:    newRecordingStore(),
		notifier: &recordingNotifier{},
		audits:   repository.NewAuditLogRepository(db),
	}
	policy := blob.NewRulePolicy(blob.RulesFromConfig(config.Default().Upload))
	env.svc = service.NewFormService(env.repo, env.store, policy, service.NewAuditLogService(env.audits), env.notifier)
	return env
}

func upload(name, contentType, content string) service.Upload {
	return service.Upload{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func createDraft(t *testing.T, env *testEnv, p form.Principal, uploads ...service.Upload) *form.Record {
	t.Helper()
	rec, err := env.svc.CreateDraft(context.Background(), p, &service.CreateDraftRequest{
		Title:       "Log 1",
		Department:  "HR",
		FormData:    json.RawMessage(`{"shift":"night"}`),
		Attachments: uploads,
	})
	require.NoError(t, err)
	return rec
}

func auditActions(rec *form.Record) []form.AuditAction {
	out := make([]form.AuditAction, 0, len(rec.AuditLog))
	for _, e := range rec.AuditLog {
		out = append(out, e.Action)
	}
	return out
}

// TestScenario_EscalateAndApprove 草稿 -> 提交 -> 主管升级 -> 管理员批准
func TestScenario_EscalateAndApprove(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	rec := createDraft(t, env, opA)
	assert.Equal(t, form.StatusDraft, rec.Status)
	assert.Equal(t, "IT", rec.Department)

	rec, err := env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, form.StatusSubmitted, rec.Status)

	rec, err = env.svc.SupervisorDecide(ctx, supIT, rec.ID, "escalate", "needs sign-off")
	require.NoError(t, err)
	assert.Equal(t, form.StatusReviewed, rec.Status)
	assert.Equal(t, supIT.ID, rec.ReviewedBy)

	rec, err = env.svc.AdminDecide(ctx, admin, rec.ID, "approve", "")
	require.NoError(t, err)
	assert.Equal(t, form.StatusApproved, rec.Status)
	assert.Equal(t, admin.ID, rec.ApprovedBy)
	assert.Equal(t, supIT.ID, rec.ReviewedBy)

	assert.Equal(t, []form.AuditAction{form.AuditCreated, form.AuditSubmitted, form.AuditEscalated, form.AuditApproved}, auditActions(rec))
	require.Len(t, rec.Comments, 1)
	assert.Equal(t, "needs sign-off", rec.Comments[0].Message)

	stored, err := env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, auditActions(rec), auditActions(stored))

	assert.Equal(t, []form.Action{form.ActionSubmit, form.ActionSupervisorEscalate, form.ActionAdminApprove}, env.notifier.events)

	logs, _, err := env.audits.Query(ctx, repository.AuditLogFilter{ResourceType: service.ResourceForm, ResourceID: rec.ID})
	require.NoError(t, err)
	assert.Len(t, logs, 4)
}

// TestScenario_DeleteDraft 草稿未提交即删除
func TestScenario_DeleteDraft(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	rec := createDraft(t, env, opA,
		upload("report.pdf", "application/pdf", "%PDF-1.4"),
		upload("photo.png", "image/png", "png-bytes"),
	)
	require.Len(t, rec.Attachments, 2)
	assert.Equal(t, 2, env.store.Len())

	require.NoError(t, env.svc.DeleteDraft(ctx, opA, rec.ID))

	assert.ElementsMatch(t, rec.BlobIDs(), env.store.deletes)
	assert.Equal(t, 0, env.store.Len())

	all, err := env.repo.QueryAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	visible, total, err := env.svc.ListVisible(ctx, opA, repository.FormFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)
	assert.Zero(t, total)
}

// TestScenario_CrossDepartment 其他部门主管审核返回 NotFound
func TestScenario_CrossDepartment(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	rec := createDraft(t, env, opA)
	rec, err := env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)

	_, err = env.svc.SupervisorDecide(ctx, supHR, rec.ID, "approve", "")
	assert.True(t, errors.Is(err, form.ErrNotFound))

	stored, err := env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, form.StatusSubmitted, stored.Status)
	assert.Equal(t, rec.Version, stored.Version)
}

func TestOwnershipScoping(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA)

	title := "hijacked"
	_, err := env.svc.UpdateDraft(ctx, opB, rec.ID, &service.UpdateDraftRequest{Title: &title})
	assert.True(t, errors.Is(err, form.ErrNotFound))

	err = env.svc.DeleteDraft(ctx, opB, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))

	_, err = env.svc.Submit(ctx, opB, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))

	_, err = env.svc.GetVisible(ctx, opB, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))

	// 主管看不到草稿,管理员能看到但不能修改
	_, err = env.svc.UpdateDraft(ctx, supIT, rec.ID, &service.UpdateDraftRequest{Title: &title})
	assert.True(t, errors.Is(err, form.ErrNotFound))
	_, err = env.svc.UpdateDraft(ctx, admin, rec.ID, &service.UpdateDraftRequest{Title: &title})
	assert.True(t, errors.Is(err, form.ErrForbidden))

	// 不存在的记录对任何角色都是 NotFound
	_, err = env.svc.UpdateDraft(ctx, supIT, "does-not-exist", &service.UpdateDraftRequest{Title: &title})
	assert.True(t, errors.Is(err, form.ErrNotFound))
	err = env.svc.DeleteDraft(ctx, admin, "does-not-exist")
	assert.True(t, errors.Is(err, form.ErrNotFound))
	err = env.svc.DeleteDraft(ctx, supIT, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))

	_, err = env.svc.UpdateDraft(ctx, opB, "does-not-exist", &service.UpdateDraftRequest{})
	assert.True(t, errors.Is(err, form.ErrNotFound))

	// 空评论不能用来探测记录是否存在
	_, err = env.svc.AddComment(ctx, supHR, "does-not-exist", "")
	assert.True(t, errors.Is(err, form.ErrNotFound))
}

func TestReplayIsConflict(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	rec := createDraft(t, env, opA)
	_, err := env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)

	before, err := env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	beforeJSON, err := json.Marshal(before)
	require.NoError(t, err)

	_, err = env.svc.Submit(ctx, opA, rec.ID)
	assert.True(t, errors.Is(err, form.ErrConflict))

	after, err := env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	afterJSON, err := json.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, string(beforeJSON), string(afterJSON))
}

func TestConcurrentAdminApprove(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	rec := createDraft(t, env, opA)
	_, err := env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.AdminDecide(ctx, admin, rec.ID, "approve", "")
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, form.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	stored, err := env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	approved := 0
	for _, e := range stored.AuditLog {
		if e.Action == form.AuditApproved {
			approved++
		}
	}
	assert.Equal(t, 1, approved)
}

func TestCreateDraft_Attachments(t *testing.T) {
	env := setupService(t)

	up := upload("notes.txt", "text/plain", "hello")
	up.Description = " shift notes "
	rec := createDraft(t, env, opA, up, upload("scan.pdf", "application/pdf", "%PDF"))

	require.Len(t, rec.Attachments, 2)
	att := rec.Attachments[0]
	assert.True(t, strings.HasPrefix(att.BlobID, blob.KeyPrefix))
	assert.True(t, strings.HasSuffix(att.BlobID, ".txt"))
	assert.Equal(t, "notes.txt", att.OriginalName)
	assert.Equal(t, int64(5), att.Size)
	assert.Equal(t, form.FileTypeDocument, att.FileType)
	assert.Equal(t, "shift notes", att.Description)
	assert.Equal(t, opA.ID, att.UploadedBy)
	assert.Equal(t, form.FileTypePDF, rec.Attachments[1].FileType)

	_, body, err := env.svc.OpenAttachment(context.Background(), supIT, rec.ID, att.BlobID)
	// 草稿对主管不可见
	assert.True(t, errors.Is(err, form.ErrNotFound))
	assert.Nil(t, body)

	got, body, err := env.svc.OpenAttachment(context.Background(), opA, rec.ID, att.BlobID)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, att.BlobID, got.BlobID)

	_, _, err = env.svc.OpenAttachment(context.Background(), opA, rec.ID, "forms/unknown.pdf")
	assert.True(t, errors.Is(err, form.ErrNotFound))
}

func TestCreateDraft_PolicyRejectsBeforeWrite(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	cases := map[string][]service.Upload{
		"bad extension": {upload("run.exe", "application/pdf", "MZ")},
		"bad mime":      {upload("doc.pdf", "application/x-msdownload", "MZ")},
		"mismatch":      {upload("photo.png", "application/pdf", "x")},
		"too many": {
			upload("1.txt", "text/plain", "1"), upload("2.txt", "text/plain", "2"),
			upload("3.txt", "text/plain", "3"), upload("4.txt", "text/plain", "4"),
			upload("5.txt", "text/plain", "5"), upload("6.txt", "text/plain", "6"),
		},
	}
	for name, uploads := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.CreateDraft(ctx, opA, &service.CreateDraftRequest{Title: "x", Attachments: uploads})
			assert.True(t, errors.Is(err, form.ErrInvalid))
		})
	}

	assert.Zero(t, env.store.puts)
	all, err := env.repo.QueryAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateDraft_OversizedContent(t *testing.T) {
	env := setupService(t)

	up := upload("big.txt", "text/plain", strings.Repeat("x", 10*1024*1024+1))
	up.Size = 10 // 声明的大小不可信
	_, err := env.svc.CreateDraft(context.Background(), opA, &service.CreateDraftRequest{Attachments: []service.Upload{up}})
	assert.True(t, errors.Is(err, form.ErrInvalid))
	assert.Equal(t, 0, env.store.Len())
}

func TestCreateDraft_StoreFailureReleasesBlobs(t *testing.T) {
	env := setupService(t)
	env.store.failPutAfter = 1

	_, err := env.svc.CreateDraft(context.Background(), opA, &service.CreateDraftRequest{
		Title: "x",
		Attachments: []service.Upload{
			upload("a.txt", "text/plain", "a"),
			upload("b.txt", "text/plain", "b"),
		},
	})
	require.Error(t, err)
	assert.Empty(t, form.KindOf(err))

	assert.Equal(t, 0, env.store.Len())
	assert.Len(t, env.store.deletes, 1)
	all, err := env.repo.QueryAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateDraft_Rejections(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateDraft(ctx, supIT, &service.CreateDraftRequest{Title: "x"})
	assert.True(t, errors.Is(err, form.ErrForbidden))

	_, err = env.svc.CreateDraft(ctx, opA, &service.CreateDraftRequest{FormData: json.RawMessage(`[1,2]`)})
	assert.True(t, errors.Is(err, form.ErrInvalid))

	rec, err := env.svc.CreateDraft(ctx, opA, &service.CreateDraftRequest{Template: "Incident"})
	require.NoError(t, err)
	assert.Equal(t, "Incident submission", rec.Title)
}

func TestUpdateDraft(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA, upload("a.txt", "text/plain", "a"))

	title := "Log 2"
	updated, err := env.svc.UpdateDraft(ctx, opA, rec.ID, &service.UpdateDraftRequest{
		Title:       &title,
		FormData:    json.RawMessage(`{"shift":"day"}`),
		Attachments: []service.Upload{upload("b.pdf", "application/pdf", "%PDF")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Log 2", updated.Title)
	assert.JSONEq(t, `{"shift":"day"}`, string(updated.FormData))
	require.Len(t, updated.Attachments, 2)
	assert.Equal(t, rec.Attachments[0].BlobID, updated.Attachments[0].BlobID)
	assert.Equal(t, []form.AuditAction{form.AuditCreated, form.AuditUpdated}, auditActions(updated))

	_, err = env.svc.UpdateDraft(ctx, opA, rec.ID, &service.UpdateDraftRequest{})
	assert.True(t, errors.Is(err, form.ErrInvalid))

	// 非法修改在写入附件之前被拒绝
	empty := " "
	puts := env.store.puts
	_, err = env.svc.UpdateDraft(ctx, opA, rec.ID, &service.UpdateDraftRequest{
		Title:       &empty,
		Attachments: []service.Upload{upload("c.txt", "text/plain", "c")},
	})
	assert.True(t, errors.Is(err, form.ErrInvalid))
	assert.Equal(t, puts, env.store.puts)

	_, err = env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)
	_, err = env.svc.UpdateDraft(ctx, opA, rec.ID, &service.UpdateDraftRequest{Title: &title})
	assert.True(t, errors.Is(err, form.ErrNotFound))
}

func TestUpdateDraft_StoreFailureLeavesRecord(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA)
	env.store.failPutAfter = 0

	_, err := env.svc.UpdateDraft(ctx, opA, rec.ID, &service.UpdateDraftRequest{
		Attachments: []service.Upload{upload("a.txt", "text/plain", "a")},
	})
	require.Error(t, err)

	stored, err := env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Attachments)
	assert.Equal(t, rec.Version, stored.Version)
}

func TestDeleteDraft_StorageUnavailableKeepsRecord(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA,
		upload("a.txt", "text/plain", "a"),
		upload("b.txt", "text/plain", "b"),
	)
	env.store.failHead = true

	err := env.svc.DeleteDraft(ctx, opA, rec.ID)
	assert.True(t, errors.Is(err, form.ErrConflict))
	assert.Empty(t, env.store.deletes)

	// 记录保留且所有附件仍可读取
	_, err = env.repo.Load(ctx, rec.ID)
	require.NoError(t, err)
	env.store.failHead = false
	for _, a := range rec.Attachments {
		_, body, err := env.svc.OpenAttachment(ctx, opA, rec.ID, a.BlobID)
		require.NoError(t, err)
		body.Close()
	}

	// 恢复后重试成功
	require.NoError(t, env.svc.DeleteDraft(ctx, opA, rec.ID))
	_, err = env.repo.Load(ctx, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))
	assert.Equal(t, 0, env.store.Len())
}

func TestDeleteDraft_ReleaseFailureAfterDelete(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA,
		upload("a.txt", "text/plain", "a"),
		upload("b.txt", "text/plain", "b"),
	)
	env.store.failDeleteAt = 2

	require.NoError(t, env.svc.DeleteDraft(ctx, opA, rec.ID))

	_, err := env.repo.Load(ctx, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))
	assert.ElementsMatch(t, rec.BlobIDs(), env.store.deletes)
	// 释放失败的附件成为孤儿,不会被任何记录引用
	assert.Equal(t, 1, env.store.Len())
}

func TestDeleteDraft_Submitted(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA)
	_, err := env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)

	err = env.svc.DeleteDraft(ctx, opA, rec.ID)
	assert.True(t, errors.Is(err, form.ErrNotFound))
	assert.Empty(t, env.store.deletes)
}

func TestDecide_InvalidDecision(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA)

	_, err := env.svc.SupervisorDecide(ctx, supIT, rec.ID, "reject", "")
	assert.True(t, errors.Is(err, form.ErrInvalid))

	_, err = env.svc.AdminDecide(ctx, admin, rec.ID, "", "")
	assert.True(t, errors.Is(err, form.ErrInvalid))

	_, err = env.svc.AdminDecide(ctx, supIT, rec.ID, "approve", "")
	assert.True(t, errors.Is(err, form.ErrForbidden))

	_, err = env.svc.AdminDecide(ctx, admin, "missing", "approve", "")
	assert.True(t, errors.Is(err, form.ErrNotFound))
}

func TestAddComment(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	rec := createDraft(t, env, opA)
	_, err := env.svc.Submit(ctx, opA, rec.ID)
	require.NoError(t, err)

	updated, err := env.svc.AddComment(ctx, supIT, rec.ID, "looks fine")
	require.NoError(t, err)
	require.Len(t, updated.Comments, 1)
	assert.Equal(t, supIT.ID, updated.Comments[0].Author)
	assert.Equal(t, form.StatusSubmitted, updated.Status)
	assert.Len(t, updated.AuditLog, 2)

	_, err = env.svc.AddComment(ctx, supHR, rec.ID, "peek")
	assert.True(t, errors.Is(err, form.ErrNotFound))

	_, err = env.svc.AddComment(ctx, opA, rec.ID, "  ")
	assert.True(t, errors.Is(err, form.ErrInvalid))
}

func TestListVisible(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	draft := createDraft(t, env, opA)
	sub := createDraft(t, env, opA)
	_, err := env.svc.Submit(ctx, opA, sub.ID)
	require.NoError(t, err)
	createDraft(t, env, opB)

	list, total, err := env.svc.ListVisible(ctx, opA, repository.FormFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	list, _, err = env.svc.ListVisible(ctx, supIT, repository.FormFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sub.ID, list[0].ID)

	list, total, err = env.svc.ListVisible(ctx, admin, repository.FormFilter{Status: form.StatusDraft})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	_, _, err = env.svc.ListVisible(ctx, admin, repository.FormFilter{Status: "archived"})
	assert.True(t, errors.Is(err, form.ErrInvalid))

	got, err := env.svc.GetVisible(ctx, opA, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, got.ID)
}
