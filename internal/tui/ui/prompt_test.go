package ui

import (
	"reflect"
	"testing"
)

func TestPromptHistory(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	p.Activate(PromptCommand)
	for _, c := range []string{"refresh", "refresh", "invite ana"} {
		p.remember(c)
	}
	if got := p.History(); !reflect.DeepEqual(got, []string{"refresh", "invite ana"}) {
		t.Fatalf("history = %v", got)
	}

	p.Activate(PromptCommand)
	p.recall(-1)
	if p.GetText() != "invite ana" {
		t.Fatalf("recall = %q", p.GetText())
	}
	p.recall(-1)
	p.recall(-1)
	if p.GetText() != "refresh" {
		t.Fatalf("recall past start = %q", p.GetText())
	}
	p.recall(1)
	p.recall(1)
	if p.GetText() != "" {
		t.Fatalf("recall to end = %q", p.GetText())
	}
}
