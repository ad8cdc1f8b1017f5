// ABOUTME: Resolves inbound text into one of the bot's commands
// ABOUTME: English keywords match case-insensitively, Chinese aliases match exactly

package conversation

import "strings"

// Command is the meaning of an inbound text.
type Command int

const (
	CmdText Command = iota // free text, no keyword
	CmdCancel
	CmdRegister
	CmdIntro
	CmdSend
	CmdMenu
)

func (c Command) String() string {
	switch c {
	case CmdCancel:
		return "cancel"
	case CmdRegister:
		return "register"
	case CmdIntro:
		return "intro"
	case CmdSend:
		return "send"
	case CmdMenu:
		return "menu"
	default:
		return "text"
	}
}

var keywords = map[string]Command{
	"cancel":    CmdCancel,
	"取消操作":      CmdCancel,
	"register":  CmdRegister,
	"intro":     CmdIntro,
	"send":      CmdSend,
	"發送訊息":      CmdSend,
	"func_list": CmdMenu,
	"功能列表":      CmdMenu,
}

// ParseCommand resolves text to a command. Surrounding whitespace is ignored.
func ParseCommand(text string) Command {
	t := strings.ToLower(strings.TrimSpace(text))
	if cmd, ok := keywords[t]; ok {
		return cmd
	}
	return CmdText
}
