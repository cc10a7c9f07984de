package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/npezzotti/synqup/internal/types"
)

var (
	brandStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80")).Bold(true)
	cmdStyle     = lipgloss.NewStyle().Bold(true)
	descStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34d474"))
)

func printHelp() {
	commands := []struct{ cmd, desc string }{
		{"synqup signup", "Create an account"},
		{"synqup login", "Sign in"},
		{"synqup logout", "Clear your session"},
		{"synqup whoami", "Show the signed in user"},
		{"synqup rooms", "List your rooms"},
		{"synqup create <name>", "Create a room and open it"},
		{"synqup join <code>", "Join a room by its code"},
		{"synqup open <room id>", "Open a room you belong to"},
		{"synqup --version", "Show version"},
	}

	fmt.Printf("\n  %s\n  %s\n\n  Commands:\n", brandStyle.Render("s y n q u p"), descStyle.Render("watch together"))
	for _, c := range commands {
		fmt.Printf("    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-24s", c.cmd)), descStyle.Render(c.desc))
	}
	fmt.Printf("\n  %s\n\n", descStyle.Render("SYNQUP_API_URL selects the server, SYNQUP_LOG enables a debug log."))
}

func printSuccess(msg string) {
	fmt.Println(successStyle.Render(msg))
}

func printRooms(w io.Writer, rooms []types.Room) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, descStyle.Render("No rooms yet. Create one with: synqup create <name>"))
		return
	}
	for _, r := range rooms {
		fmt.Fprintf(w, "%s  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-24s", r.Name)),
			descStyle.Render(r.JoinCode),
			descStyle.Render(r.Id.String()))
	}
}
