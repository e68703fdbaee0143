package canon

import (
	"strings"
	"testing"
)

func validMessage() Message {
	return Message{
		TenantID:   "t1",
		MessageID:  "m1",
		ChatID:     "c1",
		Direction:  DirectionInbound,
		CreatedAt:  "2025-06-01T12:00:00Z",
		Sender:     Party{ChannelID: "s1", Role: RoleContact},
		Recipients: []Party{{ChannelID: "c1", Role: RoleAgent}},
		Content:    "hi",
		Raw:        `{"conversation":"hi"}`,
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	res := Validate(validMessage())
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidate_RequiredAndEnum(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Message)
		wantHit string
	}{
		{"missing tenant", func(m *Message) { m.TenantID = "" }, "tenantId"},
		{"missing message id", func(m *Message) { m.MessageID = "" }, "messageId"},
		{"missing chat id", func(m *Message) { m.ChatID = "" }, "chatId"},
		{"bad direction", func(m *Message) { m.Direction = "sideways" }, "direction"},
		{"missing created at", func(m *Message) { m.CreatedAt = "" }, "createdAt"},
		{"bad sender role", func(m *Message) { m.Sender.Role = "robot" }, "role"},
		{"bad recipient role", func(m *Message) { m.Recipients[0].Role = "robot" }, "role"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			m := validMessage()
			c.mutate(&m)
			res := Validate(m)
			if res.Valid {
				t.Fatalf("expected invalid")
			}
			joined := strings.Join(res.Errors, "; ")
			if !strings.Contains(joined, c.wantHit) {
				t.Fatalf("errors %q do not mention %q", joined, c.wantHit)
			}
		})
	}
}

func TestValidate_MappedRowPasses(t *testing.T) {
	t.Parallel()

	msg, _ := Map(RowOf(RowInput{
		ID:        "m1",
		ChatID:    "c1",
		SenderID:  "s1",
		TsSeconds: 1700000000,
	}), MapContext{TenantID: "t1"})

	res := Validate(msg)
	if !res.Valid {
		t.Fatalf("mapped row should validate, got: %v", res.Errors)
	}
}

func TestCheckShape_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
		ok   bool
	}{
		{
			name: "known shape",
			doc:  `{"tenantId":"t1","messageId":"m1","chatId":"c1","direction":"inbound","createdAt":"2025-06-01T12:00:00Z","sender":{"channelId":"s1","role":"contact"},"recipients":[],"content":"hi","raw":"{}","derived":null}`,
			ok:   true,
		},
		{
			name: "unknown top-level field",
			doc:  `{"tenantId":"t1","messageId":"m1","chatId":"c1","direction":"inbound","createdAt":"x","sender":{"channelId":"s1","role":"contact"},"extra":1}`,
			ok:   false,
		},
		{
			name: "unknown nested field",
			doc:  `{"tenantId":"t1","messageId":"m1","chatId":"c1","direction":"inbound","createdAt":"x","sender":{"channelId":"s1","role":"contact","mood":"fine"}}`,
			ok:   false,
		},
		{
			name: "unknown field inside recipients",
			doc:  `{"tenantId":"t1","messageId":"m1","chatId":"c1","direction":"inbound","createdAt":"x","sender":{"channelId":"s1","role":"contact"},"recipients":[{"channelId":"c1","role":"agent","alias":"x"}]}`,
			ok:   false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			err := checkShape([]byte(c.doc))
			if c.ok && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if !c.ok && err == nil {
				t.Fatalf("expected unknown-field rejection")
			}
		})
	}
}
