package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentBindings(t *testing.T) {
	r := newPage(t)

	assert.Equal(t, "BUTTON true", run(t, r, `
		var trigger = document.getElementById("picker-trigger");
		trigger.tagName + " " + (trigger === document.querySelector(".trigger"))
	`))
	assert.Equal(t, "100,100,300,140", run(t, r, `
		var b = trigger.getBoundingClientRect();
		[b.x, b.y, b.right, b.bottom].join(",")
	`))
	assert.Equal(t, "null 2", run(t, r, `document.getElementById("nope") + " " + document.querySelectorAll("button").length`))
	assert.Equal(t, "true", run(t, r, `document.getElementById("picker").contains(trigger)`))
}

func TestScriptLaysOutAndInspectsOverlay(t *testing.T) {
	r := newPage(t)
	got := run(t, r, `
		document.getElementById("picker-trigger").setRect(40, 40, 120, 30);
		overlay.positionDropdown("picker", {triggerSelector: ".trigger", contentSelector: ".menu", componentType: "choice", matchTriggerWidth: true});
		var menu = document.getElementById("picker-menu");
		[
			menu.parentElement.id,
			menu.style.getPropertyValue("top"),
			menu.style.getPropertyValue("width"),
			menu.getAttribute("data-placement"),
			document.getElementById("picker-trigger").getAttribute("aria-expanded"),
			menu.classList.contains("overlay-dropdown-open"),
		].join(" ")
	`)
	assert.Equal(t, "choice-picker 74px 120px bottom-start true true", got)
}

func TestFocusFromScript(t *testing.T) {
	r := newPage(t)
	assert.Equal(t, "ok", run(t, r, `document.getElementById("ok").focus(); document.activeElement.id`))
}
