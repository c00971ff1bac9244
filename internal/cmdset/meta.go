package cmdset

import (
	"strings"

	"github.com/agsys/atmodem/internal/atci"
)

// Build assembles the full command catalogue: identity & platform, keys
// & activation, region & radio, sessions & traffic, plus the two
// self-describing commands (+CLAC, +HELP) that need the finished table
// to enumerate.
func Build(d *Deps) *atci.Table {
	all := make([]atci.Command, 0, 96)
	all = append(all, identityCommands(d)...)
	all = append(all, keyCommands(d)...)
	all = append(all, regionCommands(d)...)
	all = append(all, sessionCommands(d)...)

	var table *atci.Table
	all = append(all, metaCommands(&table)...)
	table = atci.NewTable(all)
	return table
}

// metaCommands returns +CLAC and +HELP. Both need the assembled table,
// which doesn't exist yet at the point Build constructs the command
// list, so they close over the pointer Build fills in right after —
// neither handler can run before Build returns and a client dispatches
// a line.
func metaCommands(tablep **atci.Table) []atci.Command {
	return []atci.Command{
		{
			Name: "+CLAC",
			Hint: "list every supported command name",
			Action: func(out *atci.IO, args string) error {
				t := *tablep
				names := make([]string, 0, len(t.All()))
				for _, c := range t.All() {
					names = append(names, c.Name)
				}
				out.OKValues(strings.Join(names, ","))
				return nil
			},
		},
		{
			Name: "+HELP",
			Hint: "list every command with its one-line description",
			Action: func(out *atci.IO, args string) error {
				t := *tablep
				var b strings.Builder
				for _, c := range t.All() {
					b.WriteString(c.Name)
					b.WriteString(": ")
					b.WriteString(c.Hint)
					b.WriteString("\r\n")
				}
				out.Print(b.String())
				return nil
			},
		},
	}
}
