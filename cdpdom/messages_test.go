package cdpdom

import (
	"context"
	"testing"
)

func chatFixture() *fakeDOM {
	f := newFakeDOM()
	f.selectorAll["1|[data-message-author-role]"] = []int{10, 20, 30}

	f.attrs[10] = []string{"data-message-author-role", "user", "data-message-id", "m1"}
	f.attrs[20] = []string{"data-message-author-role", "assistant", "data-message-id", "m2"}
	f.attrs[30] = []string{"data-message-author-role", "assistant", "data-message-id", "m3"}

	// Turn 20 has an inner content node; the others extract from the
	// turn wrapper directly.
	f.setSelector(20, ".whitespace-pre-wrap, .markdown", 21)

	f.outerHTML[10] = `<div>hello?</div>`
	f.outerHTML[21] = `<div class="markdown"><p>hi, user</p></div>`
	f.outerHTML[30] = `<div>second answer <script>noise()</script></div>`
	return f
}

func TestMessages(t *testing.T) {
	c := New(chatFixture(), Config{})

	msgs, err := c.Messages(context.Background(), MessagesConfig{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	want := []ChatMessage{
		{Role: "user", MessageID: "m1", Text: "hello?"},
		{Role: "assistant", MessageID: "m2", Text: "hi, user"},
		{Role: "assistant", MessageID: "m3", Text: "second answer"},
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestMessagesUnknownRole(t *testing.T) {
	f := newFakeDOM()
	f.selectorAll["1|[data-message-author-role]"] = []int{10}
	f.attrs[10] = []string{"class", "turn"}
	f.outerHTML[10] = `<div>anonymous</div>`
	c := New(f, Config{})

	msgs, err := c.Messages(context.Background(), MessagesConfig{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "unknown" {
		t.Errorf("messages = %+v, want one unknown-role turn", msgs)
	}
}

func TestLastAssistantText(t *testing.T) {
	c := New(chatFixture(), Config{})

	got, err := c.LastAssistantText(context.Background(), MessagesConfig{})
	if err != nil {
		t.Fatalf("LastAssistantText: %v", err)
	}
	if got != "second answer" {
		t.Errorf("LastAssistantText = %q, want %q", got, "second answer")
	}
}

func TestLastAssistantTextNone(t *testing.T) {
	f := newFakeDOM()
	c := New(f, Config{})

	got, err := c.LastAssistantText(context.Background(), MessagesConfig{})
	if err != nil {
		t.Fatalf("LastAssistantText: %v", err)
	}
	if got != "" {
		t.Errorf("LastAssistantText = %q, want empty", got)
	}
}

func TestMessagesMarkdown(t *testing.T) {
	f := chatFixture()
	c := New(f, Config{})

	msgs, err := c.Messages(context.Background(), MessagesConfig{Markdown: true})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// User turns stay plain even with markdown on.
	if msgs[0].Text != "hello?" {
		t.Errorf("user turn = %q, want plain text", msgs[0].Text)
	}
	if msgs[1].Text == "" {
		t.Error("assistant markdown turn is empty")
	}
}
