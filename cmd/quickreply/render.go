package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	labelWidth   = 24
	previewWidth = 40
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	groupStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// truncate cuts s to width terminal cells, accounting for wide runes.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}

// cell truncates and pads s to exactly width terminal cells.
func cell(s string, width int) string {
	return runewidth.FillRight(truncate(s, width), width)
}

func preview(t models.Template) string {
	c := t.Content
	switch t.Kind {
	case models.KindContact:
		if c.Contact != nil {
			return c.Contact.Name + " " + c.Contact.Phone
		}
		return ""
	case models.KindImage, models.KindAudio, models.KindVideo:
		if c.Caption != "" {
			return c.Caption
		}
		return "[" + string(t.Kind) + "]"
	}
	return c.Text
}

func renderGroups(w io.Writer, groups []models.Group, templates []models.Template) {
	if len(groups) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No groups."))
		return
	}
	counts := make(map[string]int, len(groups))
	for _, t := range templates {
		counts[t.GroupID]++
	}
	children := make(map[string][]models.Group)
	for _, g := range groups {
		children[g.ParentID] = append(children[g.ParentID], g)
	}

	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, g := range children[parentID] {
			marker := "▸"
			if g.Expanded {
				marker = "▾"
			}
			name := fmt.Sprintf("%s %s", marker, cell(g.Name, labelWidth))
			fmt.Fprintf(w, "%s%s %s %s\n",
				strings.Repeat("  ", depth),
				groupStyle.Render(name),
				dimStyle.Render(fmt.Sprintf("(%d)", counts[g.ID])),
				dimStyle.Render(g.ID))
			if depth < models.MaxGroupDepth {
				walk(g.ID, depth+1)
			}
		}
	}
	walk("", 0)
}

func renderTemplates(w io.Writer, templates []models.Template, groupNames map[string]string) {
	if len(templates) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No templates."))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s %s %s %s %s",
		cell("LABEL", labelWidth), cell("GROUP", 16), cell("TYPE", 8), cell("USED", 5), "ID")))
	for _, t := range templates {
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			cell(t.Label, labelWidth),
			cell(groupNames[t.GroupID], 16),
			cell(string(t.Kind), 8),
			cell(fmt.Sprintf("%d", t.UsageCount), 5),
			dimStyle.Render(t.ID))
		if p := preview(t); p != "" {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render(truncate(p, previewWidth)))
		}
	}
}
