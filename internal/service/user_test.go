package service

import (
	"testing"
	"time"

	"flowdeck/internal/db/dao"
	"flowdeck/internal/db/models"
)

/*
setupUserService 组装测试用户服务
*/
func setupUserService(t *testing.T) *UserService {
	t.Helper()
	return NewUserService(dao.New(setupTestDB(t)))
}

/*
TestUser_CreateAndAuthenticate 创建后可用正确口令登录
*/
func TestUser_CreateAndAuthenticate(t *testing.T) {
	svc := setupUserService(t)

	created, err := svc.CreateUser("bob", "bob@example.com", "s3cret-passw0rd", "Bob", models.RoleUser)
	if err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
	if created.Password == "s3cret-passw0rd" {
		t.Fatal("口令不应明文存储")
	}

	user, err := svc.Authenticate("bob", "s3cret-passw0rd")
	if err != nil {
		t.Fatalf("认证失败: %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("用户 ID 不匹配: %s", user.ID)
	}
}

/*
TestUser_AuthenticateUniformError 不同失败原因返回相同错误文案
功能：防止通过错误信息差异枚举用户名
*/
func TestUser_AuthenticateUniformError(t *testing.T) {
	svc := setupUserService(t)

	if _, err := svc.CreateUser("bob", "bob@example.com", "s3cret-passw0rd", "Bob", models.RoleUser); err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	_, errNoUser := svc.Authenticate("nobody", "whatever-pass")
	_, errBadPass := svc.Authenticate("bob", "wrong-password")

	if errNoUser == nil || errBadPass == nil {
		t.Fatal("两种失败都应返回错误")
	}
	if errNoUser.Error() != errBadPass.Error() {
		t.Errorf("错误文案应一致: %q vs %q", errNoUser, errBadPass)
	}
}

/*
TestUser_AuthenticateDisabled 停用账户无法登录
*/
func TestUser_AuthenticateDisabled(t *testing.T) {
	svc := setupUserService(t)

	user, err := svc.CreateUser("bob", "bob@example.com", "s3cret-passw0rd", "Bob", models.RoleUser)
	if err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
	svc.dao.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("enabled", false)

	if _, err := svc.Authenticate("bob", "s3cret-passw0rd"); err == nil {
		t.Error("停用账户应认证失败")
	}
}

/*
TestUser_DuplicateUsername 用户名重复时创建失败
*/
func TestUser_DuplicateUsername(t *testing.T) {
	svc := setupUserService(t)

	if _, err := svc.CreateUser("bob", "bob@example.com", "s3cret-passw0rd", "Bob", models.RoleUser); err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
	if _, err := svc.CreateUser("bob", "other@example.com", "s3cret-passw0rd", "Bob2", models.RoleUser); err == nil {
		t.Error("重复用户名应创建失败")
	}
}

/*
TestCleanup_RunOnce 过期会话被清理，有效会话保留
*/
func TestCleanup_RunOnce(t *testing.T) {
	sessions, _, user := setupSessionService(t, false)
	svc := NewCleanupService(sessions.dao, sessions)

	/* 一个有效会话，两个已过期会话 */
	if _, _, err := sessions.CreateSession(user, testClientCtx); err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, s, err := sessions.CreateSession(user, testClientCtx)
		if err != nil {
			t.Fatalf("创建会话失败: %v", err)
		}
		expired := time.Now().Add(-time.Hour)
		sessions.dao.DB.Model(&models.Session{}).Where("id = ?", s.ID).Update("expires_at", expired)
	}

	deleted := svc.RunOnce()
	if deleted != 2 {
		t.Errorf("期望清理 2 个会话, 实际 %d", deleted)
	}

	count, _ := sessions.ActiveSessionCount(user.ID)
	if count != 1 {
		t.Errorf("有效会话应保留: %d", count)
	}
}
