package reader

// CSS selectors for the Kindle Cloud Reader UI. Kept in one place because
// they are the part of this package most likely to rot.
const (
	selReaderHeader     = "#reader-header"
	selNextButton       = "#kr-chevron-right"
	selNextContainer    = ".kr-chevron-container-right"
	selSideMenuClose    = ".side-menu-close-button"
	selTOCItem          = "ion-list ion-item"
	selTOCButton        = "button.toc-item-button"
	selTOCChapterTitle  = ".chapter-title"
	selTOCScrollable    = ".side-menu-content .scrollable-content"
	selTOCBottom        = ".toc-bottom"
	selCoverButton      = `button.toc-item-button[aria-label="Cover"]`
	selGoToPageInput    = `ion-modal input[placeholder="page number"]`
	selGoToPageButton   = `ion-modal ion-button[item-i-d="go-to-modal-go-button"]`
	selFontOption       = "#AmazonEmber"
	testIDTOCButton     = "top_menu_table_of_contents"
	testIDNavMenu       = "top_menu_navigation_menu"
	testIDSettings      = "top_menu_reader_settings"
)

// footerTextJS returns the first non-empty footer label text.
const footerTextJS = `(() => {
	const selectors = [
		'ion-title[item-i-d="reader-footer-title"] .text-div',
		'ion-footer ion-title',
		'.footer-label-color-default',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el && el.textContent && el.textContent.trim()) {
			return el.textContent.trim();
		}
	}
	return "";
})()`

// contentSignatureJS returns an identity for the rendered page content, based
// on the content image source. Empty when no content element is present.
const contentSignatureJS = `(() => {
	const selectors = [
		'#kr-renderer .kg-full-page-img img',
		'#kr-renderer .kg-full-page-img',
		'#kr-renderer',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (!el) continue;
		const img = el.tagName && el.tagName.toLowerCase() === 'img' ? el : el.querySelector('img');
		const src = img ? (img.getAttribute('src') || img.currentSrc || '') : '';
		if (src) return sel + '|' + src;
	}
	return "";
})()`

// contentRegionJS reports which content capture selector is visible, in
// preference order. Empty when none qualifies.
const contentRegionJS = `(() => {
	const selectors = [
		'#kr-renderer .kg-full-page-img img',
		'#kr-renderer .kg-full-page-img',
		'#kr-renderer',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (!el) continue;
		const box = el.getBoundingClientRect();
		if (box.width > 1 && box.height > 1) return sel;
	}
	return "";
})()`

// clickNextJS clicks the next-page control. Returns false when none exists.
const clickNextJS = `(() => {
	for (const sel of ['` + selNextButton + `', '` + selNextContainer + `']) {
		const el = document.querySelector(sel);
		if (el && el.offsetParent !== null) { el.click(); return true; }
	}
	return false;
})()`

// nextControlVisibleJS reports whether a next-page control is visible.
const nextControlVisibleJS = `(() => {
	for (const sel of ['` + selNextButton + `', '` + selNextContainer + `']) {
		const el = document.querySelector(sel);
		if (el && el.offsetParent !== null) return true;
	}
	return false;
})()`

// revealChromeJS forces the top chrome visible and disables its transition
// so test-id buttons can be clicked reliably.
const revealChromeJS = `(() => {
	const chrome = document.querySelector('.top-chrome');
	if (chrome) {
		chrome.style.transition = 'none';
		chrome.style.transform = 'none';
	}
	const header = document.querySelector('` + selReaderHeader + `');
	if (header) header.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
	return true;
})()`

// clickTestIDJS clicks a button located by data-testid.
const clickTestIDJS = `((id) => {
	const el = document.querySelector('[data-testid="' + id + '"]');
	if (el && el.offsetParent !== null) { el.click(); return true; }
	return false;
})(%q)`

// tocPanelOpenJS reports whether the TOC side panel appears open.
const tocPanelOpenJS = `(() => {
	for (const sel of ['` + selSideMenuClose + `', '` + selTOCItem + `', '` + selTOCBottom + `']) {
		const el = document.querySelector(sel);
		if (el && el.offsetParent !== null) return true;
	}
	return false;
})()`

// tocVisibleItemsJS lists the currently rendered TOC entries. The TOC list
// is virtualized, so repeated calls between scrolls are required to see all
// entries.
const tocVisibleItemsJS = `(() => {
	const out = [];
	for (const item of document.querySelectorAll('` + selTOCItem + `')) {
		const button = item.querySelector('` + selTOCButton + `');
		if (!button) continue;
		const titleNode = item.querySelector('` + selTOCChapterTitle + `');
		const raw = (titleNode ? titleNode.textContent : item.textContent) || '';
		const title = raw.split(/\s+/).join(' ').trim();
		if (!title) continue;
		out.push({key: (button.getAttribute('aria-label') || title).trim().toLowerCase(), title: title});
	}
	return out;
})()`

// tocClickEntryJS clicks the TOC entry whose dedup key matches.
const tocClickEntryJS = `((want) => {
	for (const item of document.querySelectorAll('` + selTOCItem + `')) {
		const button = item.querySelector('` + selTOCButton + `');
		if (!button) continue;
		const titleNode = item.querySelector('` + selTOCChapterTitle + `');
		const raw = (titleNode ? titleNode.textContent : item.textContent) || '';
		const title = raw.split(/\s+/).join(' ').trim();
		const key = (button.getAttribute('aria-label') || title).trim().toLowerCase();
		if (key !== want) continue;
		button.scrollIntoView({block: 'center'});
		button.click();
		return true;
	}
	return false;
})(%q)`

// tocScrollJS scrolls the TOC list by most of a viewport. Returns whether
// the scroll position moved, and whether the bottom marker is visible.
const tocScrollJS = `(() => {
	const bottom = document.querySelector('` + selTOCBottom + `');
	const atBottom = !!(bottom && bottom.offsetParent !== null);
	const el = document.querySelector('` + selTOCScrollable + `');
	if (!el) return {moved: false, atBottom: atBottom};
	const previous = el.scrollTop;
	el.scrollBy(0, Math.max(240, Math.floor(el.clientHeight * 0.8)));
	return {moved: el.scrollTop !== previous, atBottom: atBottom};
})()`

// dismissAlertJS closes a blocking reader dialog, preferring the "No"
// answer to position-sync prompts. Returns true when something was clicked.
const dismissAlertJS = `(() => {
	const roots = [];
	for (const sel of ['ion-alert', '[role="alertdialog"]']) {
		const el = document.querySelector(sel);
		if (el && el.offsetParent !== null) roots.push(el);
	}
	if (roots.length === 0) return false;
	for (const root of roots) {
		for (const btn of root.querySelectorAll('button')) {
			if ((btn.textContent || '').trim() === 'No') { btn.click(); return true; }
		}
	}
	for (const root of roots) {
		for (const sel of ["button[aria-label='Close']", "button[title='Close']", '.alert-button-role-cancel']) {
			const btn = root.querySelector(sel);
			if (btn && btn.offsetParent !== null) { btn.click(); return true; }
		}
	}
	return false;
})()`

// goToPageMenuItemJS clicks the "Go to Page" item in the reader menu.
const goToPageMenuItemJS = `(() => {
	for (const item of document.querySelectorAll('ion-item[role="listitem"]')) {
		if ((item.textContent || '').includes('Go to Page')) { item.click(); return true; }
	}
	return false;
})()`

// singleColumnJS selects the single-column layout radio if present.
const singleColumnJS = `(() => {
	for (const group of document.querySelectorAll('[role="radiogroup"]')) {
		const label = group.getAttribute('aria-label') || '';
		if (!label.endsWith(' columns')) continue;
		for (const option of group.querySelectorAll('*')) {
			if ((option.textContent || '').trim() === 'Single Column') { option.click(); return true; }
		}
	}
	return false;
})()`
