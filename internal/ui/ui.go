package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Out is where the status helpers write. Tests swap it.
var Out io.Writer = os.Stdout

const (
	IconLab     = "🧪"
	IconRocket  = "🚀"
	IconStop    = "⏹️"
	IconCamera  = "📸"
	IconRewind  = "⏪"
	IconInfo    = "📋"
	IconSuccess = "✅"
	IconWarning = "⚠️"
	IconError   = "❌"
	IconPulse   = "⚡"
	IconWait    = "⏳"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Width(16)
)

func Header(title string) {
	fmt.Fprintf(Out, "\n%s\n", headerStyle.Render(IconLab+" "+strings.ToUpper(title)))
	fmt.Fprintf(Out, "%s\n\n", dimStyle.Render(strings.Repeat("-", 40)))
}

func Info(msg string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", infoStyle.Render(IconInfo), fmt.Sprintf(msg, args...))
}

func Success(msg string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", okStyle.Render(IconSuccess), fmt.Sprintf(msg, args...))
}

func Warn(msg string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", warnStyle.Render(IconWarning), fmt.Sprintf(msg, args...))
}

func Error(msg string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", IconError, errStyle.Render(fmt.Sprintf(msg, args...)))
}

func FancyLabel(label string, value interface{}) {
	fmt.Fprintf(Out, "  %s %v\n", labelStyle.Render(label), value)
}

func Ironic(msg string) {
	fmt.Fprintf(Out, "%s\n", dimStyle.Render(IconPulse+" "+msg))
}

func DoctorCheck(label string, passed bool, details string) {
	status := okStyle.Render(" [PASS] ")
	icon := IconSuccess
	if !passed {
		status = errStyle.Render(" [FAIL] ")
		icon = IconError
	}
	fmt.Fprintf(Out, "  %s %-20s %s %s\n", icon, label, status, dimStyle.Render(details))
}
