package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	c := defaultAppConfig()
	c.token = "123:abc"
	c.chatID = "42"
	return c
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	c := validConfig()
	c.source = "serial"
	c.serialDev = "/dev/null"
	if err := c.validate(); err != nil {
		t.Fatalf("serial: expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badSource", func(c *appConfig) { c.source = "x" }},
		{"badBaud", func(c *appConfig) { c.source = "serial"; c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.source = "serial"; c.serialReadTO = 0 }},
		{"noSerialDev", func(c *appConfig) { c.source = "serial"; c.serialDev = "" }},
		{"emptyMirror", func(c *appConfig) { c.mirror = "" }},
		{"badTick", func(c *appConfig) { c.tick = 0 }},
		{"badDrain", func(c *appConfig) { c.drainTimeout = -time.Second }},
		{"noToken", func(c *appConfig) { c.token = "" }},
		{"noChat", func(c *appConfig) { c.chatID = "" }},
		{"badMsgFormat", func(c *appConfig) { c.format = "html" }},
		{"badQueue", func(c *appConfig) { c.queueCapacity = 0 }},
		{"smallLine", func(c *appConfig) { c.lineSize = 4 }},
		{"badRetries", func(c *appConfig) { c.maxRetries = -1 }},
		{"badSendTO", func(c *appConfig) { c.sendTimeout = 0 }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestChatConfigCarriesDeliverySettings(t *testing.T) {
	c := validConfig()
	c.format = "monospace"
	c.queueCapacity = 4
	c.probeAddr = "10.0.0.1:443"
	cc, err := c.chatConfig()
	if err != nil {
		t.Fatalf("chatConfig: %v", err)
	}
	if cc.QueueCapacity != 4 || cc.Format.String() != "monospace" || cc.ProbeTarget() != "10.0.0.1:443" {
		t.Fatalf("unexpected chat config: %+v", cc)
	}
}
