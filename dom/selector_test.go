package dom

import (
	"errors"
	"testing"
)

func buildSelectorFixture(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseHTML(`<html><body>
<div id="app" class="shell">
  <button id="trigger" class="btn primary" aria-haspopup="listbox" data-dropdown-trigger>Open</button>
  <ul class="menu" role="listbox">
    <li class="item" data-value="a">A</li>
    <li class="item selected" data-value="b">B</li>
  </ul>
</div>
<div id="choice-42" lang="en-US"></div>
</body></html>`)
	if err != nil {
		t.Fatalf("ParseHTML failed: %v", err)
	}
	return doc
}

func TestSelectorMatches(t *testing.T) {
	doc := buildSelectorFixture(t)
	trigger := doc.GetElementById("trigger")
	choice := doc.GetElementById("choice-42")

	tests := []struct {
		el       *Element
		selector string
		want     bool
	}{
		{trigger, "button", true},
		{trigger, "#trigger", true},
		{trigger, ".btn.primary", true},
		{trigger, "button.secondary", false},
		{trigger, "[data-dropdown-trigger]", true},
		{trigger, `[aria-haspopup="listbox"]`, true},
		{trigger, "#app > button", true},
		{trigger, "body button", true},
		{trigger, "body > button", false},
		{trigger, "ul, button", true},
		{trigger, "*", true},
		{choice, `[id^="choice-"]`, true},
		{choice, `[id$="-42"]`, true},
		{choice, `[id*="ice"]`, true},
		{choice, `[lang|="en"]`, true},
		{trigger, `[class~="primary"]`, true},
		{trigger, `[class~="prim"]`, false},
	}
	for _, tc := range tests {
		if got := tc.el.Matches(tc.selector); got != tc.want {
			t.Errorf("Matches(%q) on #%s = %v, expected %v", tc.selector, tc.el.Id(), got, tc.want)
		}
	}
}

func TestSelectorSyntaxErrors(t *testing.T) {
	doc := buildSelectorFixture(t)
	trigger := doc.GetElementById("trigger")

	for _, sel := range []string{"", "> div", "div >", "div >> span", "[unterminated", "#", "div!"} {
		_, err := trigger.MatchesWithError(sel)
		if !errors.Is(err, ErrSyntax) {
			t.Errorf("MatchesWithError(%q): expected SyntaxError, got %v", sel, err)
		}
	}
	if doc.QuerySelector("[") != nil {
		t.Error("Expected invalid selector to find nothing")
	}
}

func TestQuerySelectorAll(t *testing.T) {
	doc := buildSelectorFixture(t)

	items := doc.QuerySelectorAll(".menu .item")
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].GetAttribute("data-value") != "a" {
		t.Errorf("Expected tree order, got %q first", items[0].GetAttribute("data-value"))
	}

	if sel := doc.QuerySelector(".item.selected"); sel == nil || sel.TextContent() != "B" {
		t.Errorf("Expected selected item B, got %v", sel)
	}

	app := doc.GetElementById("app")
	if found := app.QuerySelector("#app"); found != nil {
		t.Error("Expected element QuerySelector to exclude the element itself")
	}
}

func TestClosest(t *testing.T) {
	doc := buildSelectorFixture(t)
	item := doc.QuerySelector(".item")

	if got := item.Closest(".shell"); got == nil || got.Id() != "app" {
		t.Errorf("Expected closest .shell to be #app, got %v", got)
	}
	if got := item.Closest("li"); got != item {
		t.Error("Expected Closest to include the element itself")
	}
	if got := item.Closest(".missing"); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
	if _, err := item.ClosestWithError("..bad"); !errors.Is(err, ErrSyntax) {
		t.Errorf("Expected SyntaxError, got %v", err)
	}
}
