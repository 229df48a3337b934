package browser

import (
	"encoding/json"
	"fmt"
)

const scanLimit = 400

// collectorJS defines collect(root, sel, limit). It walks open shadow roots and
// reports rects relative to the viewport of root's own window.
const collectorJS = `
function collect(root, sel, limit) {
	const attrNames = ["aria-checked","aria-hidden","aria-label","role","src","title","type","name"];
	const out = [];
	function visible(el, rect) {
		if (rect.width === 0 || rect.height === 0) return false;
		const view = el.ownerDocument.defaultView;
		if (!view) return true;
		const s = view.getComputedStyle(el);
		if (s.display === "none" || s.visibility === "hidden") return false;
		if (parseFloat(s.opacity || "1") < 0.05) return false;
		return true;
	}
	function selectorFor(el) {
		if (el.id) return "#" + el.id;
		const tag = el.tagName.toLowerCase();
		const siblings = Array.from(el.parentElement ? el.parentElement.children : []);
		const idx = siblings.filter(c => c.tagName === el.tagName).indexOf(el) + 1;
		return idx > 0 ? tag + ":nth-of-type(" + idx + ")" : tag;
	}
	function push(el) {
		if (out.length >= limit) return;
		const rect = el.getBoundingClientRect();
		let text = "";
		if (el.tagName === "INPUT" || el.tagName === "TEXTAREA") {
			text = el.value || "";
		} else {
			text = (el.innerText || el.textContent || "").trim();
		}
		const attributes = {};
		for (const a of attrNames) {
			const v = el.getAttribute(a);
			if (v !== null) attributes[a] = v.slice(0, 300);
		}
		out.push({
			selector: selectorFor(el),
			tag: el.tagName.toLowerCase(),
			id: el.id || "",
			class: typeof el.className === "string" ? el.className : (el.getAttribute("class") || ""),
			text: text.slice(0, 300),
			x: rect.x, y: rect.y, width: rect.width, height: rect.height,
			visible: visible(el, rect),
			attributes: attributes
		});
	}
	function walk(node) {
		if (!node || out.length >= limit) return;
		let nodes = [];
		try { nodes = node.querySelectorAll(sel); } catch (e) { return; }
		for (const el of nodes) {
			if (out.length >= limit) break;
			push(el);
		}
		const all = node.querySelectorAll("*");
		for (const el of all) {
			if (out.length >= limit) break;
			if (el.shadowRoot) walk(el.shadowRoot);
		}
	}
	walk(root);
	return out;
}
`

// playwrightScanScript is evaluated with the selector as its argument.
var playwrightScanScript = fmt.Sprintf(`(sel) => {
%s
return collect(document, sel, %d);
}`, collectorJS, scanLimit)

// chromeScanScript builds a self-contained expression for chromedp. Frames are
// reached through contentDocument, so only same-origin frames resolve.
func chromeScanScript(frame FrameRef, selector string) string {
	hint, _ := json.Marshal(frame.URLContains)
	name, _ := json.Marshal(frame.Name)
	sel, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
%s
let doc = document;
const hint = %s, name = %s;
if (hint || name) {
	const fr = Array.from(document.querySelectorAll("iframe")).find(f =>
		(hint && (f.src || "").includes(hint)) || (name && f.name === name));
	if (!fr) return {found: false, elements: []};
	try { doc = fr.contentDocument; } catch (e) { doc = null; }
	if (!doc) return {found: false, elements: []};
}
return {found: true, elements: collect(doc, %s, %d)};
})()`, collectorJS, hint, name, sel, scanLimit)
}

// chromeFrameScript runs js inside the matched same-origin frame.
func chromeFrameScript(frame FrameRef, js string) string {
	if frame.IsTop() {
		return js
	}
	hint, _ := json.Marshal(frame.URLContains)
	name, _ := json.Marshal(frame.Name)
	src, _ := json.Marshal(js)
	return fmt.Sprintf(`(() => {
const hint = %s, name = %s;
const fr = Array.from(document.querySelectorAll("iframe")).find(f =>
	(hint && (f.src || "").includes(hint)) || (name && f.name === name));
if (fr && fr.contentWindow) fr.contentWindow.eval(%s);
return true;
})()`, hint, name, src)
}

type chromeScanResult struct {
	Found    bool          `json:"found"`
	Elements []ElementInfo `json:"elements"`
}
