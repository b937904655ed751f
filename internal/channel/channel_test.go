package channel

import (
	"testing"

	"github.com/stellarlinkco/larkmind/internal/bus"
	"github.com/stellarlinkco/larkmind/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed_NoFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if !ch.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}
}

func TestBaseChannel_IsAllowed_WithFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, []string{"user1", "user2"})

	if !ch.IsAllowed("user1") {
		t.Error("should allow user1")
	}
	if !ch.IsAllowed("user2") {
		t.Error("should allow user2")
	}
	if ch.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
}

func TestChannelManager_FeishuEnabled(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{
		Feishu: config.FeishuConfig{
			Enabled:   true,
			AppID:     "cli_test",
			AppSecret: "secret",
		},
	}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}

	channels := m.EnabledChannels()
	if len(channels) != 1 || channels[0] != "feishu" {
		t.Errorf("EnabledChannels = %v, want [feishu]", channels)
	}
}

func TestChannelManager_FeishuEnabled_MissingConfig(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewChannelManager(config.ChannelsConfig{
		Feishu: config.FeishuConfig{
			Enabled: true,
		},
	}, b)
	if err == nil {
		t.Error("expected error for missing feishu config")
	}
}
