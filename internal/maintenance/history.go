package maintenance

import (
	"strings"
	"time"
)

// RenderNotes flattens audit notes into the text block shown to users, one
// line per note in the order given.
func RenderNotes(notes []Note) string {
	var b strings.Builder
	for i, n := range notes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[")
		b.WriteString(n.CreatedAt.UTC().Format(time.RFC3339))
		b.WriteString("] ")
		if n.ActorID != nil {
			b.WriteString(n.ActorID.String())
		} else {
			b.WriteString("system")
		}
		b.WriteString(": ")
		b.WriteString(n.Message)
	}
	return b.String()
}
