// ABOUTME: Turns an announcement into the text pushed to recipients
// ABOUTME: Markdown bodies are flattened to chat-friendly plain text with goldmark

package announce

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Header is prepended to every pushed announcement.
const Header = "📢 Announcement:\n"

var markdown = goldmark.New()

// Body returns the message text for a.
func Body(a *Announcement) string {
	content := a.Content
	if a.Format == FormatMarkdown {
		content = PlainText(content)
	}
	return Header + content
}

// PlainText renders markdown as plain text: emphasis is dropped, links keep
// their target in parentheses and list items get bullets or numbers.
func PlainText(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	r := &plainRenderer{source: source}
	_ = ast.Walk(doc, r.walk)
	return r.out.String()
}

type plainRenderer struct {
	source []byte
	out    strings.Builder
	inline strings.Builder

	// lists holds the next number of each open ordered list, or -1 for a
	// bullet list.
	lists     []int
	prefix    string
	linkStart int
}

func (r *plainRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindParagraph, ast.KindTextBlock, ast.KindHeading:
		if entering {
			r.inline.Reset()
		} else {
			r.block(strings.TrimRight(r.inline.String(), "\n"))
		}

	case ast.KindList:
		if entering {
			next := -1
			if l := n.(*ast.List); l.IsOrdered() {
				next = l.Start
			}
			r.lists = append(r.lists, next)
		} else {
			r.lists = r.lists[:len(r.lists)-1]
		}

	case ast.KindListItem:
		if entering {
			depth := len(r.lists) - 1
			indent := strings.Repeat("  ", depth)
			if r.lists[depth] < 0 {
				r.prefix = indent + "• "
			} else {
				r.prefix = fmt.Sprintf("%s%d. ", indent, r.lists[depth])
				r.lists[depth]++
			}
		} else {
			r.prefix = ""
		}

	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if entering {
			var code strings.Builder
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				code.Write(seg.Value(r.source))
			}
			r.block(strings.TrimRight(code.String(), "\n"))
		}
		return ast.WalkSkipChildren, nil

	case ast.KindThematicBreak:
		if entering {
			r.block("──────────")
		}

	case ast.KindHTMLBlock, ast.KindRawHTML:
		return ast.WalkSkipChildren, nil

	case ast.KindText:
		if entering {
			t := n.(*ast.Text)
			r.inline.Write(t.Segment.Value(r.source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				r.inline.WriteByte('\n')
			}
		}

	case ast.KindString:
		if entering {
			r.inline.Write(n.(*ast.String).Value)
		}

	case ast.KindAutoLink:
		if entering {
			r.inline.Write(n.(*ast.AutoLink).URL(r.source))
		}
		return ast.WalkSkipChildren, nil

	case ast.KindLink, ast.KindImage:
		if entering {
			r.linkStart = r.inline.Len()
			return ast.WalkContinue, nil
		}
		var dest string
		if l, ok := n.(*ast.Link); ok {
			dest = string(l.Destination)
		} else {
			dest = string(n.(*ast.Image).Destination)
		}
		label := r.inline.String()[r.linkStart:]
		if dest != "" && dest != label {
			r.inline.WriteString(" (" + dest + ")")
		}
	}
	return ast.WalkContinue, nil
}

// block appends one rendered block. Blocks inside lists are separated by a
// single newline, everything else by a blank line.
func (r *plainRenderer) block(s string) {
	inList := len(r.lists) > 0
	if r.out.Len() > 0 {
		if inList {
			r.out.WriteString("\n")
		} else {
			r.out.WriteString("\n\n")
		}
	}
	r.out.WriteString(r.prefix)
	r.out.WriteString(s)
	r.prefix = ""
}
