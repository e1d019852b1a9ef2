package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"evalplane/internal/store"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const statusLabelWidth = 20

// displayLabel turns identifiers like "lighteval_builtin" into "Lighteval Builtin".
func displayLabel(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return cases.Title(language.English).String(value)
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if colorize {
		statusText = paint(statusKindAttribute(kind), statusText)
	}
	if message != "" {
		statusText += " " + message
	}
	return fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", statusText)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindAttribute(kind statusKind) color.Attribute {
	switch kind {
	case statusOK:
		return color.FgGreen
	case statusWarn:
		return color.FgYellow
	case statusError:
		return color.FgRed
	default:
		return color.FgBlue
	}
}

// runStatusCell renders a run status for a table cell.
func runStatusCell(status store.RunStatus, colorize bool) string {
	label := displayLabel(string(status))
	if !colorize {
		return label
	}
	switch status {
	case store.RunCompleted:
		return paint(color.FgGreen, label)
	case store.RunFailed:
		return paint(color.FgRed, label)
	case store.RunRunning:
		return paint(color.FgCyan, label)
	default:
		return paint(color.FgYellow, label)
	}
}

func paint(attr color.Attribute, value string) string {
	c := color.New(attr)
	// Terminal detection happens in shouldColorize against the command's writer.
	c.EnableColor()
	return c.Sprint(value)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
