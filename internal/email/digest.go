package email

import (
	"fmt"
	"strings"

	"github.com/workstream-io/workstream/internal/domain/entity"
)

// RenderDigest builds the subject and body of a user's daily work digest
func RenderDigest(user *entity.User, pending, overdue int) (subject, body string) {
	subject = fmt.Sprintf("Your work digest: %d pending, %d overdue", pending, overdue)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", user.Name)
	fmt.Fprintf(&b, "You have %d pending task(s)", pending)
	if overdue > 0 {
		fmt.Fprintf(&b, ", %d of which are overdue and need attention", overdue)
	}
	b.WriteString(".\n\nOpen your task list to review them.\n")

	return subject, b.String()
}
