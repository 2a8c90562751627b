package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

/*
TestDefaultConfig 默认配置的关键字段
*/
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("默认端口应为 8080: %d", cfg.Server.Port)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("默认数据库应为 sqlite: %s", cfg.Database.Type)
	}
	if cfg.Session.Expiration != 24 {
		t.Errorf("默认会话有效期应为 24 小时: %d", cfg.Session.Expiration)
	}
	if !cfg.Session.FingerprintEnabled {
		t.Error("默认应启用会话指纹绑定")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("默认应启用限流")
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("默认熔断阈值应为 5: %d", cfg.Breaker.FailureThreshold)
	}
}

/*
TestDefaultRateLimitPresets 预设齐全且 AI 类最严格
*/
func TestDefaultRateLimitPresets(t *testing.T) {
	presets := DefaultRateLimitPresets()

	for _, name := range []string{"auth", "api", "read", "ai"} {
		if _, ok := presets[name]; !ok {
			t.Errorf("缺少预设 %q", name)
		}
	}

	if presets["ai"].MaxRequests >= presets["api"].MaxRequests {
		t.Error("AI 预设应比通用 API 更严格")
	}
	if presets["read"].MaxRequests <= presets["api"].MaxRequests {
		t.Error("只读预设应比通用 API 更宽松")
	}
}

/*
TestPresetWindow 窗口时长按毫秒换算
*/
func TestPresetWindow(t *testing.T) {
	p := RateLimitPreset{MaxRequests: 10, WindowMs: 60000}
	if p.Window() != time.Minute {
		t.Errorf("60000ms 应为 1 分钟: %v", p.Window())
	}
}

/*
TestSaveAndLoadConfig 配置保存后可完整读回
*/
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Port = 9090
	cfg.Session.CacheTTL = 600
	cfg.RateLimit.Presets["api"] = RateLimitPreset{MaxRequests: 42, WindowMs: 30000, KeyPrefix: "rl:api"}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("保存配置失败: %v", err)
	}

	/* 配置文件含敏感信息，应仅所有者可读写 */
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("读取文件信息失败: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("文件权限应为 0600: %o", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("端口未读回: %d", loaded.Server.Port)
	}
	if loaded.Session.CacheTTL != 600 {
		t.Errorf("缓存 TTL 未读回: %d", loaded.Session.CacheTTL)
	}
	if loaded.RateLimit.Presets["api"].MaxRequests != 42 {
		t.Errorf("限流预设未读回: %d", loaded.RateLimit.Presets["api"].MaxRequests)
	}
}

/*
TestLoadConfigOrDefault_MissingFile 文件缺失时回退默认配置
*/
func TestLoadConfigOrDefault_MissingFile(t *testing.T) {
	cfg := LoadConfigOrDefault(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if cfg == nil {
		t.Fatal("应返回默认配置")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("应为默认端口: %d", cfg.Server.Port)
	}
}
