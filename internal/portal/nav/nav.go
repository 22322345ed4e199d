// Package nav holds the role-keyed navigation menu.
package nav

import (
	"strings"

	"github.com/patientdoc/portal/internal/domain/profile"
)

// Placeholder is shown instead of a menu when the signed-in user has no role.
const Placeholder = "No role assigned. Contact an admin."

type Entry struct {
	Label  string `json:"label"`
	Icon   string `json:"icon"`
	Path   string `json:"path"`
	Active bool   `json:"active"`
}

// Menu is what the sidebar renders: either entries or a placeholder.
type Menu struct {
	Entries     []Entry `json:"entries"`
	Placeholder string  `json:"placeholder,omitempty"`
}

var menus = map[profile.Role][]Entry{
	profile.RolePatient: {
		{Label: "Book Appointment", Icon: "calendar-plus", Path: "/book-appointment"},
		{Label: "Medical Records", Icon: "file-text", Path: "/medical-records"},
	},
	profile.RoleDoctor: {
		{Label: "Appointments", Icon: "calendar-days", Path: "/appointments"},
		{Label: "My Patients", Icon: "users", Path: "/my-patients"},
		{Label: "Medical Records", Icon: "file-text", Path: "/doctor-records"},
		{Label: "Messages", Icon: "message-square", Path: "/messages"},
	},
	profile.RoleAdmin: {
		{Label: "Manage Users", Icon: "user-cog", Path: "/manage-users"},
		{Label: "Settings", Icon: "settings", Path: "/settings"},
		{Label: "Analytics", Icon: "bar-chart-3", Path: "/analytics"},
	},
}

// For returns the menu of role with the entry for current marked active. The
// returned entries are a copy.
func For(role profile.Role, current string) Menu {
	table, ok := menus[role]
	if !ok || len(table) == 0 {
		return Menu{Entries: []Entry{}, Placeholder: Placeholder}
	}
	current = strings.TrimRight(current, "/")
	out := make([]Entry, len(table))
	for i, e := range table {
		e.Active = current != "" && e.Path == current
		out[i] = e
	}
	return Menu{Entries: out}
}

// Paths lists every path reachable from role's menu.
func Paths(role profile.Role) []string {
	table := menus[role]
	out := make([]string, 0, len(table))
	for _, e := range table {
		out = append(out, e.Path)
	}
	return out
}
