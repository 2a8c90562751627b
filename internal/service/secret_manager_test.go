package service

import "testing"

/*
TestSecretManager_ConfiguredBypass 配置显式指定密钥时直接使用
*/
func TestSecretManager_ConfiguredBypass(t *testing.T) {
	m := NewSecretManager(nil, "configured-secret")
	if err := m.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer m.Stop()

	if got := m.GetSecret(); got != "configured-secret" {
		t.Errorf("应直接使用配置密钥: %q", got)
	}
}

/*
TestGenerateSecret 生成的密钥为 64 字节十六进制编码
*/
func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	if len(a) != SessionSecretLength*2 {
		t.Errorf("密钥长度应为 %d: %d", SessionSecretLength*2, len(a))
	}

	b, _ := generateSecret()
	if a == b {
		t.Error("两次生成的密钥不应相同")
	}
}
