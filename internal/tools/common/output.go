package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
)

type ciResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one JSON line to stdout for scripted callers.
func PrintCIResult(ok bool, title string, details []string, err error) {
	writeCIResult(os.Stdout, ok, title, details, err)
}

func writeCIResult(w io.Writer, ok bool, title string, details []string, err error) {
	res := ciResult{OK: ok, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	_ = json.NewEncoder(w).Encode(res)
}

// RenderResult formats a result for a terminal.
func RenderResult(ok bool, title string, details []string, err error) string {
	status := okStyle.Render("OK")
	if !ok {
		status = failStyle.Render("FAILED")
	}
	out := fmt.Sprintf("%s %s\n", status, titleStyle.Render(title))
	for _, d := range details {
		out += detailStyle.Render("- "+d) + "\n"
	}
	if err != nil {
		out += detailStyle.Render("error: "+err.Error()) + "\n"
	}
	return out
}
