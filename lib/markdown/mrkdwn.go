// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package markdown

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// parserInstance is initialized once and reused. The parser
// configuration never changes and the goldmark Parser is safe to
// share; actual parsing creates per-call state via Parse(reader).
var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func getParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return parserInstance
}

// ToMrkdwn converts GitHub-flavored markdown to Slack mrkdwn. The
// input is what the code agent produces; the output is what
// chat.postMessage renders faithfully.
func ToMrkdwn(input string) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := getParser().Parser().Parse(text.NewReader(source))

	renderer := &mrkdwnRenderer{source: source}
	ast.Walk(document, renderer.walk)

	return strings.Trim(renderer.output.String(), "\n")
}

// mrkdwnRenderer walks a goldmark AST and produces mrkdwn text. It
// uses a direct ast.Walk rather than goldmark's renderer interface
// because mrkdwn is line-oriented: paragraph inline content collects
// in a buffer and gets line-prefixed as a unit when the paragraph
// closes, and block quotes prefix every line they contain.
type mrkdwnRenderer struct {
	source []byte

	// Final rendered output.
	output strings.Builder

	// Inline accumulator: collects text fragments within a paragraph,
	// heading, or other inline-containing block. Flushed when the
	// containing block closes.
	inline strings.Builder

	// Prefix stack for nested block containers (quotes, lists).
	prefixStack []string
	linePrefix  string

	// Pending bullet: replaces linePrefix for the very next emitted
	// line, then clears. Used for list item bullets/numbers.
	pendingBullet string

	// List nesting state.
	listStack []listState

	// plain collects raw text: no styling markers and no entity
	// escaping. Table cells are collected in plain mode because they
	// land inside a code block, which escapes its content as a unit.
	plain bool

	// Tracks trailing newlines at end of output for blank line
	// management.
	trailingNewlines int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (renderer *mrkdwnRenderer) pushPrefix(prefixText string) {
	renderer.prefixStack = append(renderer.prefixStack, prefixText)
	renderer.linePrefix += prefixText
}

func (renderer *mrkdwnRenderer) popPrefix() {
	if len(renderer.prefixStack) == 0 {
		return
	}
	top := renderer.prefixStack[len(renderer.prefixStack)-1]
	renderer.prefixStack = renderer.prefixStack[:len(renderer.prefixStack)-1]
	renderer.linePrefix = renderer.linePrefix[:len(renderer.linePrefix)-len(top)]
}

func (renderer *mrkdwnRenderer) inTightList() bool {
	if len(renderer.listStack) == 0 {
		return false
	}
	return renderer.listStack[len(renderer.listStack)-1].tight
}

// writeOutput appends text to the output buffer, tracking trailing
// newlines for blank line management.
func (renderer *mrkdwnRenderer) writeOutput(s string) {
	if s == "" {
		return
	}
	renderer.output.WriteString(s)

	newTrailing := 0
	entirelyNewlines := true
	for index := len(s) - 1; index >= 0; index-- {
		if s[index] == '\n' {
			newTrailing++
		} else {
			entirelyNewlines = false
			break
		}
	}
	if entirelyNewlines {
		renderer.trailingNewlines += newTrailing
	} else {
		renderer.trailingNewlines = newTrailing
	}
}

func (renderer *mrkdwnRenderer) ensureNewline() {
	if renderer.trailingNewlines < 1 {
		renderer.writeOutput("\n")
	}
}

func (renderer *mrkdwnRenderer) ensureBlankLine() {
	for renderer.trailingNewlines < 2 {
		renderer.writeOutput("\n")
	}
}

// consumeLinePrefix returns the prefix for the current line. If a
// pending bullet is set, returns and clears it (used for the first
// line of a list item). Otherwise returns the regular line prefix.
func (renderer *mrkdwnRenderer) consumeLinePrefix() string {
	if renderer.pendingBullet != "" {
		bullet := renderer.pendingBullet
		renderer.pendingBullet = ""
		return bullet
	}
	return renderer.linePrefix
}

// applyPrefixes prepends the appropriate line prefix to each line of
// content. The first line uses the pending bullet (if set), subsequent
// lines use the regular line prefix.
func (renderer *mrkdwnRenderer) applyPrefixes(content string) string {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	for index, line := range lines {
		if index == 0 {
			result.WriteString(renderer.consumeLinePrefix())
		} else {
			result.WriteString(renderer.linePrefix)
		}
		result.WriteString(line)
		if index < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}

// flushInline applies line prefixes to the accumulated inline content
// and returns the result. Resets the inline buffer. No wrapping: the
// Slack client reflows text itself.
func (renderer *mrkdwnRenderer) flushInline() string {
	content := renderer.inline.String()
	renderer.inline.Reset()
	if content == "" {
		return ""
	}
	return renderer.applyPrefixes(content)
}

// renderInlineContent walks a node's children to collect inline
// content into a string. Saves and restores the inline buffer so the
// caller's context is unaffected.
func (renderer *mrkdwnRenderer) renderInlineContent(node ast.Node) string {
	saved := renderer.inline.String()
	renderer.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, renderer.walk)
	}
	result := renderer.inline.String()
	renderer.inline.Reset()
	renderer.inline.WriteString(saved)
	return result
}

// marker writes an inline styling delimiter unless plain mode is on.
// mrkdwn delimiters are symmetric, so entering and leaving a style
// node write the same string.
func (renderer *mrkdwnRenderer) marker(delimiter string) {
	if !renderer.plain {
		renderer.inline.WriteString(delimiter)
	}
}

// escape entity-escapes text unless plain mode is on. Plain-mode text
// ends up inside a code block and is escaped there, as a whole; doing
// it here too would double-escape.
func (renderer *mrkdwnRenderer) escape(s string) string {
	if renderer.plain {
		return s
	}
	return Escape(s)
}

// --- AST walk dispatcher ---

func (renderer *mrkdwnRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {

	// Block nodes.
	case ast.KindDocument:
		// No action needed on entering or leaving.

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			renderer.inline.Reset()
		} else {
			flushed := renderer.flushInline()
			if flushed != "" {
				renderer.writeOutput(flushed)
				renderer.ensureNewline()
				if !renderer.inTightList() {
					renderer.ensureBlankLine()
				}
			}
		}

	case ast.KindHeading:
		if entering {
			renderer.inline.Reset()
		} else {
			renderer.leaveHeading()
		}

	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if entering {
			renderer.renderCodeBlock(renderer.collectLines(node))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			renderer.pushPrefix("> ")
		} else {
			renderer.popPrefix()
			renderer.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			renderer.enterList(node.(*ast.List))
		} else {
			renderer.leaveList()
		}

	case ast.KindListItem:
		if entering {
			renderer.enterListItem()
		} else {
			renderer.leaveListItem()
		}

	case ast.KindThematicBreak:
		if entering {
			renderer.ensureBlankLine()
			renderer.writeOutput(renderer.applyPrefixes(strings.Repeat("─", 12)))
			renderer.ensureNewline()
			renderer.ensureBlankLine()
		}

	case ast.KindHTMLBlock:
		if entering {
			stripped := strings.TrimSpace(stripHTMLTags(renderer.collectLines(node)))
			if stripped != "" {
				renderer.writeOutput(renderer.applyPrefixes(Escape(stripped)))
				renderer.ensureNewline()
				renderer.ensureBlankLine()
			}
			return ast.WalkSkipChildren, nil
		}

	// Inline nodes.
	case ast.KindText:
		if entering {
			renderer.handleText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			str := node.(*ast.String)
			renderer.inline.WriteString(renderer.escape(string(str.Value)))
		}

	case ast.KindEmphasis:
		emphasis := node.(*ast.Emphasis)
		if emphasis.Level >= 2 {
			renderer.marker("*")
		} else {
			renderer.marker("_")
		}

	case ast.KindCodeSpan:
		if entering {
			renderer.renderCodeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			renderer.renderLink(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			autoLink := node.(*ast.AutoLink)
			url := string(autoLink.URL(renderer.source))
			if renderer.plain {
				renderer.inline.WriteString(url)
			} else {
				renderer.inline.WriteString("<" + Escape(url) + ">")
			}
		}

	case ast.KindImage:
		if entering {
			renderer.renderImage(node.(*ast.Image))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			renderer.renderRawHTML(node.(*ast.RawHTML))
		}

	// GFM extension nodes.
	case extast.KindStrikethrough:
		renderer.marker("~")

	case extast.KindTable:
		if entering {
			renderer.renderTable(node)
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			checkbox := node.(*extast.TaskCheckBox)
			if checkbox.IsChecked {
				renderer.inline.WriteString("[x] ")
			} else {
				renderer.inline.WriteString("[ ] ")
			}
		}
	}

	return ast.WalkContinue, nil
}

// --- Block-level handlers ---

// leaveHeading emits the accumulated heading text as a bold line;
// mrkdwn has no heading syntax.
func (renderer *mrkdwnRenderer) leaveHeading() {
	content := renderer.inline.String()
	renderer.inline.Reset()
	if content == "" {
		return
	}

	renderer.ensureBlankLine()
	renderer.writeOutput(renderer.applyPrefixes("*" + content + "*"))
	renderer.ensureNewline()
	renderer.ensureBlankLine()
}

// collectLines concatenates the raw source lines of a block node.
func (renderer *mrkdwnRenderer) collectLines(node ast.Node) string {
	var content strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		content.Write(segment.Value(renderer.source))
	}
	return content.String()
}

// renderCodeBlock emits a fenced mrkdwn code block. Slack has no
// syntax highlighting, so the info string is dropped. The content is
// still entity-escaped; Slack parses &, <, > inside code blocks too.
func (renderer *mrkdwnRenderer) renderCodeBlock(code string) {
	renderer.ensureBlankLine()
	block := "```\n" + Escape(strings.TrimRight(code, "\n")) + "\n```"
	renderer.writeOutput(renderer.applyPrefixes(block))
	renderer.ensureNewline()
	renderer.ensureBlankLine()
}

func (renderer *mrkdwnRenderer) enterList(list *ast.List) {
	startNumber := 0
	if list.IsOrdered() {
		startNumber = list.Start
	}
	renderer.listStack = append(renderer.listStack, listState{
		ordered: list.IsOrdered(),
		counter: startNumber,
		tight:   list.IsTight,
	})
}

func (renderer *mrkdwnRenderer) leaveList() {
	if len(renderer.listStack) > 0 {
		renderer.listStack = renderer.listStack[:len(renderer.listStack)-1]
	}
	if !renderer.inTightList() {
		renderer.ensureBlankLine()
	}
}

func (renderer *mrkdwnRenderer) enterListItem() {
	if len(renderer.listStack) == 0 {
		return
	}
	top := &renderer.listStack[len(renderer.listStack)-1]

	var bullet string
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		top.counter++
	} else {
		bullet = "• "
	}

	// Continuation lines of this item indent past the bullet.
	continuation := strings.Repeat(" ", ansi.StringWidth(bullet))

	// The pending bullet includes the current linePrefix so it
	// replaces the entire prefix for the first line of this item.
	renderer.pendingBullet = renderer.linePrefix + bullet
	renderer.pushPrefix(continuation)
}

func (renderer *mrkdwnRenderer) leaveListItem() {
	renderer.popPrefix()
	if !renderer.inTightList() {
		renderer.ensureBlankLine()
	} else {
		renderer.ensureNewline()
	}
}

// --- Inline handlers ---

func (renderer *mrkdwnRenderer) handleText(node *ast.Text) {
	segment := node.Segment
	renderer.inline.WriteString(renderer.escape(string(segment.Value(renderer.source))))

	if node.SoftLineBreak() {
		// Soft line breaks become spaces so hard-wrapped source text
		// reflows; Slack renders every literal newline.
		renderer.inline.WriteString(" ")
	}
	if node.HardLineBreak() {
		renderer.inline.WriteString("\n")
	}
}

func (renderer *mrkdwnRenderer) renderCodeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if textNode, ok := child.(*ast.Text); ok {
			code.Write(textNode.Segment.Value(renderer.source))
		} else if strNode, ok := child.(*ast.String); ok {
			code.Write(strNode.Value)
		}
	}
	if renderer.plain {
		renderer.inline.WriteString(code.String())
		return
	}
	renderer.inline.WriteString("`" + Escape(code.String()) + "`")
}

func (renderer *mrkdwnRenderer) renderLink(node *ast.Link) {
	displayText := renderer.renderInlineContent(node)
	destination := string(node.Destination)

	if destination == "" {
		renderer.inline.WriteString(displayText)
		return
	}
	if renderer.plain {
		if displayText != "" {
			renderer.inline.WriteString(displayText)
		} else {
			renderer.inline.WriteString(destination)
		}
		return
	}
	escapedDestination := Escape(destination)
	if displayText == "" || displayText == escapedDestination {
		renderer.inline.WriteString("<" + escapedDestination + ">")
		return
	}
	renderer.inline.WriteString("<" + escapedDestination + "|" + displayText + ">")
}

func (renderer *mrkdwnRenderer) renderImage(node *ast.Image) {
	// mrkdwn has no inline images; a labeled link unfurls instead.
	altText := renderer.renderInlineContent(node)
	destination := string(node.Destination)
	if destination == "" {
		renderer.inline.WriteString(altText)
		return
	}
	if renderer.plain {
		if altText != "" {
			renderer.inline.WriteString(altText)
		} else {
			renderer.inline.WriteString(destination)
		}
		return
	}
	escapedDestination := Escape(destination)
	if altText == "" {
		renderer.inline.WriteString("<" + escapedDestination + ">")
		return
	}
	renderer.inline.WriteString("<" + escapedDestination + "|" + altText + ">")
}

func (renderer *mrkdwnRenderer) renderRawHTML(node *ast.RawHTML) {
	var html strings.Builder
	for index := 0; index < node.Segments.Len(); index++ {
		segment := node.Segments.At(index)
		html.Write(segment.Value(renderer.source))
	}
	stripped := stripHTMLTags(html.String())
	if stripped != "" {
		renderer.inline.WriteString(renderer.escape(stripped))
	}
}

// --- Table rendering ---

// renderTable sets the table in fixed-width columns inside a code
// block: mrkdwn has no table syntax, and a code block is the only
// way to get aligned columns a human can actually read.
func (renderer *mrkdwnRenderer) renderTable(node ast.Node) {
	var headerCells []string
	var bodyRows [][]string

	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			headerCells = renderer.collectTableRow(child)
		case extast.KindTableRow:
			bodyRows = append(bodyRows, renderer.collectTableRow(child))
		}
	}

	columnCount := len(headerCells)
	if columnCount == 0 && len(bodyRows) > 0 {
		columnCount = len(bodyRows[0])
	}
	if columnCount == 0 {
		return
	}

	columnWidths := make([]int, columnCount)
	measure := func(row []string) {
		for index, cell := range row {
			if index < columnCount {
				if width := ansi.StringWidth(cell); width > columnWidths[index] {
					columnWidths[index] = width
				}
			}
		}
	}
	measure(headerCells)
	for _, row := range bodyRows {
		measure(row)
	}

	var table strings.Builder
	writeRow := func(row []string) {
		for index := 0; index < columnCount; index++ {
			var cell string
			if index < len(row) {
				cell = row[index]
			}
			table.WriteString(cell)
			if index < columnCount-1 {
				table.WriteString(strings.Repeat(" ", columnWidths[index]-ansi.StringWidth(cell)+2))
			}
		}
		table.WriteString("\n")
	}

	if len(headerCells) > 0 {
		writeRow(headerCells)
		var rules []string
		for _, width := range columnWidths {
			rules = append(rules, strings.Repeat("─", width))
		}
		table.WriteString(strings.Join(rules, "  ") + "\n")
	}
	for _, row := range bodyRows {
		writeRow(row)
	}

	renderer.renderCodeBlock(table.String())
}

// collectTableRow extracts cell content strings from a table row node,
// in plain mode: the cells land inside a code block where styling
// markers would show literally.
func (renderer *mrkdwnRenderer) collectTableRow(row ast.Node) []string {
	savedPlain := renderer.plain
	renderer.plain = true
	defer func() { renderer.plain = savedPlain }()

	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, renderer.renderInlineContent(cell))
		}
	}
	return cells
}

// --- Utilities ---

// stripHTMLTags removes HTML tags from a string, returning only the
// text content. Used for HTMLBlock and RawHTML nodes.
func stripHTMLTags(html string) string {
	var result strings.Builder
	inTag := false
	for _, character := range html {
		if character == '<' {
			inTag = true
			continue
		}
		if character == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(character)
		}
	}
	return result.String()
}
